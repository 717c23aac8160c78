package health

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/logger"
)

// GatewayRunning is reported for the gateway itself. Answering at all means it runs.
const GatewayRunning = "running"

// Service probes the inference service.
type Service struct {
	upstream    Upstream
	candidates  []string
	concurrency int
	logger      *zap.Logger
}

// New creates a Service. candidates are the models /status reports on.
func New(upstream Upstream, candidates []string, concurrency int, log *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		upstream:    upstream,
		candidates:  candidates,
		concurrency: concurrency,
		logger:      log,
	}
}

// Probe reports whether the inference service answers /api/tags with 200.
// On success detail is the decoded tags body, otherwise {"error": "..."}.
func (s *Service) Probe(ctx context.Context) (bool, any) {
	tags, err := s.upstream.Tags(ctx)
	if err == nil {
		return true, tags
	}

	logger.FromContextOr(ctx, s.logger).Debug("Ollama probe failed", zap.Error(err))

	var sc statusCoder
	if errors.As(err, &sc) {
		return false, map[string]string{"error": fmt.Sprintf("Status code: %d", sc.HTTPStatusCode())}
	}
	return false, map[string]string{"error": err.Error()}
}

// AvailableModels probes every candidate and returns those that answered, in candidate order.
// A failing probe only drops its own model.
func (s *Service) AvailableModels(ctx context.Context, candidates []string) []string {
	ok := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, model := range candidates {
		g.Go(func() error {
			if err := s.upstream.ProbeModel(gctx, model); err != nil {
				logger.FromContextOr(ctx, s.logger).Debug("Model unavailable",
					zap.String("model", model),
					zap.Error(err),
				)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait() // probes never return errors

	available := make([]string, 0, len(candidates))
	for i, model := range candidates {
		if ok[i] {
			available = append(available, model)
		}
	}
	return available
}

// Status composes the liveness probe, the version and the model probes.
// Models are only probed when the service is running.
func (s *Service) Status(ctx context.Context) domain.ServiceStatus {
	running, detail := s.Probe(ctx)

	st := domain.ServiceStatus{
		Gateway:         GatewayRunning,
		Ollama:          domain.ServiceNotRunning,
		StatusInfo:      detail,
		AvailableModels: []string{},
	}
	if !running {
		return st
	}

	st.Ollama = domain.ServiceRunning
	if v, err := s.upstream.Version(ctx); err == nil {
		st.OllamaVersion = v
	}
	st.AvailableModels = s.AvailableModels(ctx, s.candidates)
	return st
}
