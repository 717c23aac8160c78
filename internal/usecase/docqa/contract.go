package docqa

import (
	"context"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// Prober reports whether the inference service is up, with a JSON-encodable detail.
type Prober interface {
	Probe(ctx context.Context) (bool, any)
}

// Generator runs one non-streaming completion.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Chunker splits extracted documents into retrievable chunks.
type Chunker interface {
	ChunkAll(docs []domain.Document) ([]domain.Chunk, error)
}

// Loader extracts the documents of a directory.
type Loader func(dir string) ([]domain.Document, error)
