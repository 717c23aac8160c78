package ollama

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// LineStream is a forward-only, single-consumer reader over a newline-delimited upstream body.
//
//	for s.Next() {
//		handle(s.Bytes())
//	}
//	if err := s.Err(); err != nil {
//		// stream errored; a nil Err after Next returns false means the upstream closed cleanly
//	}
//
// It is not safe for concurrent use and cannot be restarted.
type LineStream struct {
	body      io.ReadCloser
	r         *bufio.Reader
	line      []byte
	pending   error // read error observed together with the last line
	err       error
	done      bool
	closeOnce sync.Once
}

func newLineStream(body io.ReadCloser) *LineStream {
	return &LineStream{body: body, r: bufio.NewReaderSize(body, 64*1024)}
}

// Next advances to the next non-empty line. Lines may be arbitrarily long.
func (s *LineStream) Next() bool {
	if s.done {
		return false
	}
	if s.pending != nil {
		s.finish(s.pending)
		return false
	}

	for {
		raw, err := s.r.ReadBytes('\n')
		line := bytes.TrimRight(raw, "\r\n")

		if len(bytes.TrimSpace(line)) > 0 {
			s.line = line
			if err != nil {
				s.pending = err
			}
			return true
		}
		if err != nil {
			s.finish(err)
			return false
		}
	}
}

// Bytes returns the current line. It is valid until the next call to Next.
func (s *LineStream) Bytes() []byte { return s.line }

// Err returns nil if the stream ended with EOF, or the error that terminated it.
func (s *LineStream) Err() error { return s.err }

// Close releases the upstream connection. Safe to call more than once.
func (s *LineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err //nolint:wrapcheck // close error of the response body
}

func (s *LineStream) finish(err error) {
	s.done = true
	s.line = nil
	if !errors.Is(err, io.EOF) {
		s.err = fmt.Errorf("read stream: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
}
