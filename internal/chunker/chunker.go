// Package chunker splits documents into sentence-aligned, size-bounded chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// SentenceChunker packs whole sentences into chunks of at most size characters.
// Consecutive chunks share up to overlap trailing sentences.
type SentenceChunker struct {
	size    int
	overlap int
}

// NewSentenceChunker creates a chunker. size is measured in runes.
func NewSentenceChunker(size, overlap int) *SentenceChunker {
	if size <= 0 {
		size = 2048
	}
	if overlap < 0 {
		overlap = 0
	}
	return &SentenceChunker{size: size, overlap: overlap}
}

// Chunk splits one document. Empty text yields no chunks.
func (c *SentenceChunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	sentences, err := c.sentences(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", doc.ID, err)
	}
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []domain.Chunk
	start := 0
	for start < len(sentences) {
		end := c.fill(sentences, start)
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			Index:      len(chunks),
			Text:       strings.Join(sentences[start:end], " "),
		})
		if end == len(sentences) {
			break
		}

		// Step back by overlap, but never so far that sentence end stops fitting.
		next := max(end-c.overlap, start+1)
		for next < end && span(sentences[next:end+1]) > c.size {
			next++
		}
		start = next
	}
	return chunks, nil
}

// ChunkAll splits every document, keeping document order.
func (c *SentenceChunker) ChunkAll(docs []domain.Document) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, doc := range docs {
		chunks, err := c.Chunk(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// fill returns the end (exclusive) of the longest run from start that fits. At least one sentence is taken.
func (c *SentenceChunker) fill(sentences []string, start int) int {
	end := start + 1
	length := utf8.RuneCountInString(sentences[start])
	for end < len(sentences) {
		add := utf8.RuneCountInString(sentences[end]) + 1
		if length+add > c.size {
			break
		}
		length += add
		end++
	}
	return end
}

// sentences segments text with prose and cuts any sentence longer than size.
func (c *SentenceChunker) sentences(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("segment sentences: %w", err)
	}

	var out []string
	for _, s := range doc.Sentences() {
		sentence := strings.TrimSpace(s.Text)
		if sentence == "" {
			continue
		}
		out = append(out, splitLong(sentence, c.size)...)
	}
	return out, nil
}

// span is the rune length of sentences joined by single spaces.
func span(sentences []string) int {
	n := len(sentences) - 1
	for _, s := range sentences {
		n += utf8.RuneCountInString(s)
	}
	return n
}

// splitLong cuts s into pieces of at most size runes, preferring line breaks, then spaces.
func splitLong(s string, size int) []string {
	if utf8.RuneCountInString(s) <= size {
		return []string{s}
	}

	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for utf8.RuneCountInString(line) > size {
			cut := cutPoint(line, size)
			out = append(out, strings.TrimSpace(line[:cut]))
			line = strings.TrimSpace(line[cut:])
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return mergeShort(out, size)
}

// cutPoint returns a byte offset within the first size runes of s, at the last space if there is one.
func cutPoint(s string, size int) int {
	limit := 0
	for range size {
		_, w := utf8.DecodeRuneInString(s[limit:])
		limit += w
	}
	if sp := strings.LastIndexByte(s[:limit], ' '); sp > 0 {
		return sp
	}
	return limit
}

// mergeShort rejoins consecutive pieces (short lines) while they fit, so a long block of short
// lines does not turn into one sentence per line.
func mergeShort(pieces []string, size int) []string {
	var out []string
	for _, p := range pieces {
		if n := len(out); n > 0 && utf8.RuneCountInString(out[n-1])+1+utf8.RuneCountInString(p) <= size {
			out[n-1] += "\n" + p
			continue
		}
		out = append(out, p)
	}
	return out
}
