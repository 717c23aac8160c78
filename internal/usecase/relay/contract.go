package relay

import "context"

// Lines is a forward-only stream of newline-delimited upstream fragments.
type Lines interface {
	Next() bool
	Bytes() []byte
	Err() error
	Close() error
}

// Upstream opens an incremental generation.
type Upstream interface {
	GenerateStream(ctx context.Context, model, prompt string) (Lines, error)
}
