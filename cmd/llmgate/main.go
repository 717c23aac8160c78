package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/llmgate/internal/chunker"
	"github.com/kailas-cloud/llmgate/internal/config"
	"github.com/kailas-cloud/llmgate/internal/domain"
	"github.com/kailas-cloud/llmgate/internal/loader"
	logpkg "github.com/kailas-cloud/llmgate/internal/logger"
	"github.com/kailas-cloud/llmgate/internal/metrics"
	chiTransport "github.com/kailas-cloud/llmgate/internal/transport/chi"
	"github.com/kailas-cloud/llmgate/internal/transport/ollama"
	openaiEmb "github.com/kailas-cloud/llmgate/internal/transport/openai"
	docqauc "github.com/kailas-cloud/llmgate/internal/usecase/docqa"
	healthuc "github.com/kailas-cloud/llmgate/internal/usecase/health"
	relayuc "github.com/kailas-cloud/llmgate/internal/usecase/relay"
	"github.com/kailas-cloud/llmgate/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting llmgate",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("ollama_url", cfg.Upstream.BaseURL),
		zap.String("writing_model", cfg.Models.Writing),
		zap.String("code_model", cfg.Models.Code),
	)

	// Register gateway metrics explicitly (no init())
	metrics.RegisterGatewayMetrics()

	client := ollama.NewClient(&ollama.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		RequestTimeout: cfg.Upstream.RequestTimeout(),
		ProbeTimeout:   cfg.Upstream.ProbeTimeout(),
		MaxRetries:     cfg.Upstream.MaxRetries,
		Logger:         logger,
	})

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("base_url", cfg.Embedding.BaseURL),
		zap.String("model", cfg.Embedding.Model),
	)

	healthSvc := healthuc.New(client, cfg.Models.Candidates(), cfg.Upstream.ProbeConcurrency, logger)
	relaySvc := relayuc.New(lineStreamer{client}, logger)
	docqaSvc := docqauc.New(docqauc.Config{
		Model:         cfg.Models.Docs,
		TopK:          cfg.DocQA.TopK,
		ScratchPrefix: cfg.DocQA.ScratchPrefix,
	}, docqauc.Deps{
		Prober:        healthSvc,
		Generator:     client,
		Loader:        loader.LoadDir,
		Chunker:       chunker.NewSentenceChunker(cfg.DocQA.ChunkSize, cfg.DocQA.ChunkOverlap),
		DocEmbedder:   domain.NewPrefixEmbedder(embedder, cfg.Embedding.DocumentPrefix),
		QueryEmbedder: domain.NewPrefixEmbedder(embedder, cfg.Embedding.QueryPrefix),
		Logger:        logger,
	})

	server := chiTransport.NewServer(chiTransport.Models{
		Writing: cfg.Models.Writing,
		Code:    cfg.Models.Code,
	}, cfg.DocQA.MaxUploadMB, chiTransport.Deps{
		Status:    healthSvc,
		Relay:     relaySvc,
		Generator: client,
		Docs:      docqaSvc,
		Debug:     client,
		Logger:    logger,
	})

	if err := checkUpstream(healthSvc, logger); err != nil {
		// The gateway still serves /status and reports the outage there.
		logger.Warn("Ollama not reachable at startup", zap.Error(err))
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chiTransport.NewRouter(server, cfg.HTTP.StaticDir, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// checkUpstream probes Ollama once at startup.
func checkUpstream(health *healthuc.Service, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	running, detail := health.Probe(ctx)
	if !running {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, detail)
	}
	logger.Info("Connected to Ollama")
	return nil
}

// lineStreamer adapts the Ollama client to relay.Upstream.
type lineStreamer struct {
	client *ollama.Client
}

// GenerateStream returns a nil interface, not a typed nil pointer, on failure.
func (s lineStreamer) GenerateStream(ctx context.Context, model, prompt string) (relayuc.Lines, error) {
	stream, err := s.client.GenerateStream(ctx, model, prompt)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the client
	}
	return stream, nil
}
