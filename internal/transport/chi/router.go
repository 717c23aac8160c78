package chi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/metrics"
)

// NewRouter mounts the gateway routes and middleware. An empty staticDir disables / and /static/.
func NewRouter(s *Server, staticDir string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(logger))
	r.Use(metrics.Middleware())

	r.Get("/status", s.Status)
	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/ask", func(r chi.Router) {
		r.Get("/writing", s.StreamWriting)
		r.Post("/writing", s.AskWriting)
		r.Get("/code", s.StreamCode)
		r.Post("/code", s.AskCode)
		r.Post("/docs", s.AskDocs)
	})
	r.Post("/debug/ollama", s.DebugOllama)

	if staticDir != "" {
		mountStatic(r, staticDir, logger)
	}
	return r
}

func mountStatic(r chi.Router, dir string, logger *zap.Logger) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn("Static directory not found, UI disabled", zap.String("dir", dir))
		return
	}

	files := http.FileServer(http.Dir(dir))
	r.Handle("/static/*", http.StripPrefix("/static/", files))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, filepath.Join(dir, "index.html"))
	})
}
