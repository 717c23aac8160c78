package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/logger"
	"github.com/kailas-cloud/llmgate/internal/metrics"
)

// Event kinds for the relay counter.
const (
	kindResponse = "response"
	kindError    = "error"
	kindSkipped  = "skipped"
)

// Service turns an upstream fragment stream into browser events.
type Service struct {
	upstream Upstream
	logger   *zap.Logger
}

// New creates a relay Service.
func New(upstream Upstream, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{upstream: upstream, logger: log}
}

// Relay opens one upstream generation and yields an event per usable fragment, in arrival order.
// Blank and undecodable lines are skipped. A failure to open or read the stream, or a fragment
// carrying an error, yields exactly one error event and ends the sequence. A clean end of stream
// yields nothing more. Breaking out of the range closes the upstream body.
//
// The sequence is single-use: ranging over it a second time yields nothing.
func (s *Service) Relay(ctx context.Context, model, prompt string) iter.Seq[domain.RelayEvent] {
	var used atomic.Bool

	return func(yield func(domain.RelayEvent) bool) {
		if used.Swap(true) {
			return
		}
		log := logger.FromContextOr(ctx, s.logger).With(zap.String("model", model))

		lines, err := s.upstream.GenerateStream(ctx, model, prompt)
		if err != nil {
			log.Warn("Relay open failed", zap.Error(err))
			count(model, kindError)
			yield(domain.ErrorEvent(err.Error()))
			return
		}
		defer func() { _ = lines.Close() }()

		var sent int
		for lines.Next() {
			frag, err := decodeFragment(lines.Bytes())
			if err != nil {
				log.Debug("Skipping fragment", zap.Error(err))
				count(model, kindSkipped)
				continue
			}
			if frag.Error != "" {
				log.Warn("Upstream reported error mid-stream", zap.String("error", frag.Error))
				count(model, kindError)
				yield(domain.ErrorEvent(frag.Error))
				return
			}

			count(model, kindResponse)
			sent++
			if !yield(domain.ResponseEvent(frag.Response)) {
				log.Debug("Relay consumer stopped", zap.Int("events", sent))
				return
			}
		}

		if err := lines.Err(); err != nil {
			log.Warn("Relay read failed", zap.Int("events", sent), zap.Error(err))
			count(model, kindError)
			yield(domain.ErrorEvent(err.Error()))
			return
		}
		log.Debug("Relay finished", zap.Int("events", sent))
	}
}

// decodeFragment parses one line. Anything but a JSON object is ErrMalformedFragment.
func decodeFragment(line []byte) (domain.StreamFragment, error) {
	var frag domain.StreamFragment
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return frag, fmt.Errorf("%w: not an object", domain.ErrMalformedFragment)
	}
	if err := json.Unmarshal(line, &frag); err != nil {
		return frag, fmt.Errorf("%w: %w", domain.ErrMalformedFragment, err)
	}
	return frag, nil
}

// EncodeEvent renders ev as one server-sent event: "data: <json>\n\n".
func EncodeEvent(ev domain.RelayEvent) []byte {
	var buf bytes.Buffer
	buf.WriteString("data: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(ev) // RelayEvent holds only strings

	// Encode terminates with '\n'; one more ends the event.
	buf.WriteByte('\n')
	return buf.Bytes()
}

func count(model, kind string) {
	metrics.RelayEventsTotal.WithLabelValues(model, kind).Inc()
}
