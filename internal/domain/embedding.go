package domain

import (
	"context"
	"fmt"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes several texts in one provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries one vector and the tokens it cost.
type EmbeddingResult struct {
	Embedding   []float32
	TotalTokens int
}

// BatchEmbeddingResult carries vectors in input order and the aggregate token cost.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32
	TotalTokens int
}

// EmbedAll uses the native batch call when e supports it and falls back to one Embed per text.
func EmbedAll(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		return res, nil
	}

	embeddings := make([][]float32, len(texts))
	var total int
	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		total += res.TotalTokens
	}
	return BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: total}, nil
}

// PrefixEmbedder prepends a task prefix before embedding.
// nomic-embed-text expects "search_document: " for chunks and "search_query: " for questions.
type PrefixEmbedder struct {
	inner  Embedder
	prefix string
}

// NewPrefixEmbedder wraps inner. An empty prefix returns inner unchanged.
func NewPrefixEmbedder(inner Embedder, prefix string) Embedder {
	if prefix == "" {
		return inner
	}
	return &PrefixEmbedder{inner: inner, prefix: prefix}
}

// Embed prefixes text and delegates.
func (e *PrefixEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.inner.Embed(ctx, e.prefix+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("prefix embed: %w", err)
	}
	return res, nil
}

// BatchEmbed prefixes every text and delegates through EmbedAll.
func (e *PrefixEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.prefix + t
	}
	return EmbedAll(ctx, e.inner, prefixed)
}

type embeddingUsageKey struct{}

// EmbeddingUsage collects the embedding tokens spent by one HTTP request.
// The handler puts it in the context, the pipeline adds to it, the handler reports it.
type EmbeddingUsage struct {
	TotalTokens int
	Used        bool
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext returns the collector, or nil.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records consumed tokens. Safe on a nil receiver.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u != nil {
		u.TotalTokens += n
		u.Used = true
	}
}
