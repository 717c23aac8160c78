package domain

// Document is the text extracted from one file of a scratch directory.
type Document struct {
	ID   string
	Path string
	Text string
}

// Chunk is a retrievable span of a document.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}
