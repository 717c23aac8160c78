package index

import (
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

func chunk(text string) domain.Chunk { return domain.Chunk{DocumentID: "d", Text: text} }

func TestMemory_SearchRanksByCosine(t *testing.T) {
	m := NewMemory()
	err := m.Add(
		[]domain.Chunk{chunk("east"), chunk("north"), chunk("north-east")},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := m.Search([]float32{0, 2}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Text != "north" || hits[1].Chunk.Text != "north-east" {
		t.Errorf("unexpected order %q, %q", hits[0].Chunk.Text, hits[1].Chunk.Text)
	}
	if math.Abs(hits[0].Score-1) > 1e-9 {
		t.Errorf("expected score 1 for identical direction, got %f", hits[0].Score)
	}
	if math.Abs(hits[1].Score-1/math.Sqrt2) > 1e-6 {
		t.Errorf("unexpected second score %f", hits[1].Score)
	}
}

func TestMemory_TopKLargerThanIndex(t *testing.T) {
	m := NewMemory()
	if err := m.Add([]domain.Chunk{chunk("only")}, [][]float32{{1, 2, 3}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := m.Search([]float32{1, 2, 3}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestMemory_TiesKeepInsertionOrder(t *testing.T) {
	m := NewMemory()
	_ = m.Add([]domain.Chunk{chunk("a"), chunk("b"), chunk("c")}, [][]float32{{1, 0}, {1, 0}, {1, 0}})

	hits, _ := m.Search([]float32{1, 0}, 3)
	if hits[0].Chunk.Text != "a" || hits[1].Chunk.Text != "b" || hits[2].Chunk.Text != "c" {
		t.Errorf("ties must keep insertion order: %v", hits)
	}
}

func TestMemory_DimensionMismatch(t *testing.T) {
	m := NewMemory()
	err := m.Add([]domain.Chunk{chunk("a"), chunk("b")}, [][]float32{{1, 0}, {1, 0, 0}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("a failed Add must not index anything, got %d", m.Len())
	}

	_ = m.Add([]domain.Chunk{chunk("a")}, [][]float32{{1, 0}})
	if _, err := m.Search([]float32{1, 0, 0}, 1); !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch on search, got %v", err)
	}
}

func TestMemory_CountMismatch(t *testing.T) {
	if err := NewMemory().Add([]domain.Chunk{chunk("a")}, nil); err == nil {
		t.Fatal("expected error when chunks and vectors differ in length")
	}
}

func TestMemory_EmptySearch(t *testing.T) {
	hits, err := NewMemory().Search([]float32{1}, 2)
	if err != nil || hits != nil {
		t.Errorf("expected no hits and no error, got %v, %v", hits, err)
	}
}

func TestMemory_ZeroVector(t *testing.T) {
	m := NewMemory()
	_ = m.Add([]domain.Chunk{chunk("zero")}, [][]float32{{0, 0}})

	hits, err := m.Search([]float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Score != 0 || math.IsNaN(hits[0].Score) {
		t.Errorf("expected score 0 for zero vector, got %f", hits[0].Score)
	}
}
