package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/metrics"
)

// Operation labels for upstream metrics.
const (
	opGenerate       = "generate"
	opGenerateStream = "generate_stream"
	opTags           = "tags"
	opVersion        = "version"
	opProbeModel     = "probe_model"
	opRaw            = "raw"
)

// probePrompt is sent to every candidate model by ProbeModel.
const probePrompt = "test"

// StatusError is a non-2xx answer from the inference service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrUpstreamUnavailable }

// HTTPStatusCode reports the upstream status to callers that only know the interface.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Config holds the inference client settings.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	MaxRetries     int
	Logger         *zap.Logger
}

// Client talks to the Ollama HTTP API.
type Client struct {
	baseURL    string
	http       *http.Client // single-shot calls, bounded by RequestTimeout
	stream     *http.Client // bounded until headers arrive, body is unbounded
	probe      *http.Client // liveness and model probes
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *zap.Logger
}

// NewClient creates an Ollama client.
func NewClient(cfg *Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cfg.RequestTimeout
	streamTransport.DialContext = (&net.Dialer{
		Timeout:   cfg.RequestTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: cfg.RequestTimeout},
		stream:     &http.Client{Transport: streamTransport},
		probe:      &http.Client{Timeout: cfg.ProbeTimeout},
		maxRetries: cfg.MaxRetries,
		backoff:    quadraticBackoff,
		logger:     logger,
	}
}

// quadraticBackoff waits attempt² seconds before retry number attempt.
func quadraticBackoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * time.Second
}

// Generate performs one non-streaming generation and returns the response text verbatim.
// Transport errors and 5xx are retried up to MaxRetries times.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(domain.PromptRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying generate",
				zap.String("model", model),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generate: %w: %w", domain.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}

		text, retryable, err := c.generateOnce(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	return "", lastErr
}

func (c *Client) generateOnce(ctx context.Context, body []byte) (text string, retryable bool, err error) {
	start := time.Now()
	resp, err := c.post(ctx, c.http, "/api/generate", body)
	metrics.UpstreamRequestDuration.WithLabelValues(opGenerate).Observe(time.Since(start).Seconds())
	if err != nil {
		observe(opGenerate, "error")
		return "", ctx.Err() == nil, fmt.Errorf("generate: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe(opGenerate, "bad_status")
		return "", resp.StatusCode >= 500, fmt.Errorf("generate: %w", statusError(resp))
	}

	var out domain.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observe(opGenerate, "error")
		return "", false, fmt.Errorf("decode generate response: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	observe(opGenerate, "ok")
	return out.Response, false, nil
}

// GenerateStream starts an incremental generation. The caller owns the stream and must Close it.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string) (*LineStream, error) {
	body, err := json.Marshal(domain.PromptRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, c.stream, "/api/generate", body)
	metrics.UpstreamRequestDuration.WithLabelValues(opGenerateStream).Observe(time.Since(start).Seconds())
	if err != nil {
		observe(opGenerateStream, "error")
		return nil, fmt.Errorf("generate stream: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		observe(opGenerateStream, "bad_status")
		return nil, fmt.Errorf("generate stream: %w", statusError(resp))
	}

	observe(opGenerateStream, "ok")
	return newLineStream(resp.Body), nil
}

// Tags calls GET /api/tags with the probe timeout and returns the decoded body.
func (c *Client) Tags(ctx context.Context) (any, error) {
	resp, err := c.get(ctx, c.probe, "/api/tags")
	if err != nil {
		observe(opTags, "error")
		return nil, fmt.Errorf("tags: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observe(opTags, "bad_status")
		return nil, fmt.Errorf("tags: %w", statusError(resp))
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observe(opTags, "error")
		return nil, fmt.Errorf("decode tags: %w", err)
	}

	observe(opTags, "ok")
	return out, nil
}

// Version calls GET /api/version with the probe timeout.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.probe, "/api/version")
	if err != nil {
		observe(opVersion, "error")
		return "", fmt.Errorf("version: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observe(opVersion, "bad_status")
		return "", fmt.Errorf("version: %w", statusError(resp))
	}

	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observe(opVersion, "error")
		return "", fmt.Errorf("decode version: %w", err)
	}

	observe(opVersion, "ok")
	return out.Version, nil
}

// ProbeModel sends a trivial prompt to model with the probe timeout. Nil means the model answered 200.
func (c *Client) ProbeModel(ctx context.Context, model string) error {
	body, err := json.Marshal(domain.PromptRequest{Model: model, Prompt: probePrompt, Stream: false})
	if err != nil {
		return fmt.Errorf("marshal probe request: %w", err)
	}

	resp, err := c.post(ctx, c.probe, "/api/generate", body)
	if err != nil {
		observe(opProbeModel, "error")
		return fmt.Errorf("probe %s: %w: %w", model, domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		observe(opProbeModel, "bad_status")
		return fmt.Errorf("probe %s: %w", model, &StatusError{StatusCode: resp.StatusCode})
	}

	observe(opProbeModel, "ok")
	return nil
}

// Raw posts body to /api/<endpoint> and returns whatever the service answered.
func (c *Client) Raw(ctx context.Context, endpoint string, body any) (*domain.RawResponse, error) {
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" || strings.Contains(endpoint, "..") || strings.ContainsAny(endpoint, "?#") {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal raw request: %w", err)
	}

	resp, err := c.post(ctx, c.http, "/api/"+endpoint, payload)
	if err != nil {
		observe(opRaw, "error")
		return nil, fmt.Errorf("raw %s: %w: %w", endpoint, domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observe(opRaw, "error")
		return nil, fmt.Errorf("read raw %s: %w: %w", endpoint, domain.ErrUpstreamUnavailable, err)
	}

	observe(opRaw, "ok")
	return &domain.RawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return hc.Do(req) //nolint:wrapcheck // wrapped by callers with the operation name
}

func (c *Client) get(ctx context.Context, hc *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return hc.Do(req) //nolint:wrapcheck // wrapped by callers with the operation name
}

// statusError reads at most 1 KiB of the body and extracts Ollama's {"error": "..."} message when present.
func statusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var parsed struct {
		Error string `json:"error"`
	}
	detail := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
		detail = parsed.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: detail}
}

func observe(op, status string) {
	metrics.UpstreamRequestsTotal.WithLabelValues(op, status).Inc()
}
