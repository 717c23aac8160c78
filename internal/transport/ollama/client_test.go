package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterGatewayMetrics()
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c := NewClient(&Config{
		BaseURL:        url,
		RequestTimeout: 5 * time.Second,
		ProbeTimeout:   time.Second,
		MaxRetries:     retries,
		Logger:         zap.NewNop(),
	})
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func TestGenerate_ReturnsResponseVerbatim(t *testing.T) {
	const answer = "  Go is a language.\n\nWith \"quotes\" and <tags>. "

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}

		var req domain.PromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "mistral" || req.Prompt != "what is go?" || req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    "mistral",
			"response": answer,
			"done":     true,
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	got, err := c.Generate(context.Background(), "mistral", "what is go?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != answer {
		t.Errorf("got %q, want %q", got, answer)
	}
}

func TestGenerate_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	_, err := c.Generate(context.Background(), "nope", "hi")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Body != "model 'nope' not found" {
		t.Errorf("unexpected status error: %+v", se)
	}
}

func TestGenerate_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestClient(t, url, 0)
	_, err := c.Generate(context.Background(), "mistral", "hi")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestGenerate_UndecodableBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "<html>proxy error</html>")
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 2)
	_, err := c.Generate(context.Background(), "mistral", "hi")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "decode generate response") {
		t.Errorf("unexpected error %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("decode failures must not be retried, got %d calls", calls.Load())
	}
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"finally","done":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 2)
	got, err := c.Generate(context.Background(), "mistral", "hi")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "finally" {
		t.Errorf("unexpected response %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGenerate_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)
	if _, err := c.Generate(context.Background(), "mistral", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestGenerate_DefaultIsSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	_, _ = c.Generate(context.Background(), "mistral", "hi")
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestGenerateStream_LinesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.PromptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"response":"Hel","done":false}`,
			``,
			`{"response":"lo","done":false}`,
			`{"response":"","done":true}`,
		} {
			_, _ = io.WriteString(w, line+"\n")
			flusher.Flush()
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	s, err := c.GenerateStream(context.Background(), "mistral", "hi")
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	defer s.Close()

	var got []string
	for s.Next() {
		got = append(got, string(s.Bytes()))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 non-empty lines, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "Hel") || !strings.Contains(got[1], "lo") {
		t.Errorf("lines out of order: %v", got)
	}
}

func TestGenerateStream_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	_, err := c.GenerateStream(context.Background(), "mistral", "hi")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("expected upstream message in error, got %q", err.Error())
	}
}

func TestTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:latest"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	detail, err := c.Tags(context.Background())
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	m, ok := detail.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded object, got %T", detail)
	}
	if _, ok := m["models"]; !ok {
		t.Error("expected models key")
	}
}

func TestTags_NonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	_, err := c.Tags(context.Background())

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"0.6.5"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != "0.6.5" {
		t.Errorf("unexpected version %q", v)
	}
}

func TestProbeModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.PromptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != probePrompt {
			t.Errorf("unexpected probe prompt %q", req.Prompt)
		}
		if req.Model == "codellama" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	if err := c.ProbeModel(context.Background(), "mistral"); err != nil {
		t.Errorf("expected mistral available, got %v", err)
	}
	if err := c.ProbeModel(context.Background(), "codellama"); err == nil {
		t.Error("expected codellama unavailable")
	}
}

func TestProbeModel_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, server.URL, 0)
	c.probe.Timeout = 50 * time.Millisecond

	err := c.ProbeModel(context.Background(), "mistral")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected timeout as ErrUpstreamUnavailable, got %v", err)
	}
}

func TestRaw_PassesThroughStatusHeadersBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/bogus" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("404 page not found"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	resp, err := c.Raw(context.Background(), "bogus", map[string]string{"model": "mistral", "prompt": "Hello"})
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Error("expected upstream header")
	}
	if string(resp.Body) != "404 page not found" {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestRaw_RejectsPathEscape(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)
	for _, ep := range []string{"", "../metrics", "generate?x=1"} {
		if _, err := c.Raw(context.Background(), ep, nil); err == nil {
			t.Errorf("expected error for endpoint %q", ep)
		}
	}
}
