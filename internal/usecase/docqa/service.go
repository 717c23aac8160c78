package docqa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/index"
	"github.com/kailas-cloud/llmgate/internal/logger"
	"github.com/kailas-cloud/llmgate/internal/metrics"
	"github.com/kailas-cloud/llmgate/internal/scratch"
)

// qaTemplate asks the model to answer from the retrieved context only.
const qaTemplate = "Context information is below.\n" +
	"---------------------\n" +
	"%s\n" +
	"---------------------\n" +
	"Given the context information and not prior knowledge, answer the query.\n" +
	"Query: %s\n" +
	"Answer: "

// fallbackName is used when the uploaded filename has no usable base name.
const fallbackName = "upload"

// Outcome labels for the duration histogram.
const (
	outcomeOK           = "ok"
	outcomeUpstreamDown = "upstream_down"
	outcomeFailed       = "failed"
)

// Config holds the pipeline settings.
type Config struct {
	Model         string
	TopK          int
	ScratchPrefix string
}

// Service answers a question about one uploaded document.
type Service struct {
	cfg           Config
	prober        Prober
	generator     Generator
	load          Loader
	chunker       Chunker
	docEmbedder   domain.Embedder
	queryEmbedder domain.Embedder
	logger        *zap.Logger
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Prober        Prober
	Generator     Generator
	Loader        Loader
	Chunker       Chunker
	DocEmbedder   domain.Embedder
	QueryEmbedder domain.Embedder // defaults to DocEmbedder
	Logger        *zap.Logger
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if deps.QueryEmbedder == nil {
		deps.QueryEmbedder = deps.DocEmbedder
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		cfg:           cfg,
		prober:        deps.Prober,
		generator:     deps.Generator,
		load:          deps.Loader,
		chunker:       deps.Chunker,
		docEmbedder:   deps.DocEmbedder,
		queryEmbedder: deps.QueryEmbedder,
		logger:        deps.Logger,
	}
}

// Answer stores the upload in a private scratch directory, checks the inference service,
// indexes the document and answers question from its most relevant chunks.
// The result is always a displayable string. Failures are reported in it, never returned.
// The scratch directory is gone when Answer returns.
func (s *Service) Answer(ctx context.Context, filename string, r io.Reader, question string) string {
	log := logger.FromContextOr(ctx, s.logger).With(zap.String("filename", filename))
	start := time.Now()
	outcome := outcomeFailed
	defer func() {
		metrics.DocQADuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	answer, err := scratch.With(s.cfg.ScratchPrefix, func(dir string) (string, error) {
		if err := saveUpload(dir, filename, r); err != nil {
			return "", err
		}

		if running, detail := s.prober.Probe(ctx); !running {
			outcome = outcomeUpstreamDown
			return notRunningMessage(detail), nil
		}

		text, err := s.recoverQuery(ctx, dir, question)
		if err != nil {
			log.Warn("Document processing failed", zap.Error(fmt.Errorf("%w: %w", domain.ErrDocumentProcessing, err)))
			return "Error processing document: " + err.Error(), nil
		}
		outcome = outcomeOK
		return text, nil
	})
	if err != nil {
		log.Error("Document upload failed", zap.Error(err))
		return "Error: " + err.Error()
	}
	return answer
}

// recoverQuery runs query and turns a panic in any pipeline stage into an error.
func (s *Service) recoverQuery(ctx context.Context, dir, question string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContextOr(ctx, s.logger).Error("Document pipeline panicked",
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
			text, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return s.query(ctx, dir, question)
}

// query runs load, chunk, embed, retrieve and synthesize over dir.
func (s *Service) query(ctx context.Context, dir, question string) (string, error) {
	docs, err := s.load(dir)
	if err != nil {
		return "", err
	}

	chunks, err := s.chunker.ChunkAll(docs)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", domain.ErrNoDocuments
	}
	metrics.DocQAChunks.Observe(float64(len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embedded, err := domain.EmbedAll(ctx, s.docEmbedder, texts)
	if err != nil {
		return "", fmt.Errorf("embed chunks: %w", err)
	}

	idx := index.NewMemory()
	if err := idx.Add(chunks, embedded.Embeddings); err != nil {
		return "", err
	}

	q, err := s.queryEmbedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}

	hits, err := idx.Search(q.Embedding, s.cfg.TopK)
	if err != nil {
		return "", err
	}

	logger.FromContextOr(ctx, s.logger).Debug("Retrieved context",
		zap.Int("documents", len(docs)),
		zap.Int("indexed", idx.Len()),
		zap.Int("hits", len(hits)),
	)

	answer, err := s.generator.Generate(ctx, s.cfg.Model, BuildPrompt(hits, question))
	if err != nil {
		return "", err
	}
	return answer, nil
}

// BuildPrompt renders the question-answering prompt from retrieval hits.
func BuildPrompt(hits []domain.ScoredChunk, question string) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Chunk.Text
	}
	return fmt.Sprintf(qaTemplate, strings.Join(parts, "\n\n"), question)
}

// saveUpload writes r to dir under the base name of filename.
func saveUpload(dir, filename string, r io.Reader) error {
	path := filepath.Join(dir, SafeName(filename))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

// SafeName keeps only the last path element of a client-supplied filename.
func SafeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return fallbackName
	}
	return name
}

func notRunningMessage(detail any) string {
	data, err := json.Marshal(detail)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(detail)))
	}
	return "Error: Ollama service is not running. Status info: " + string(data)
}
