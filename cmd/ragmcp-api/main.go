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
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragmcp/internal/bootstrap"
	"github.com/kailas-cloud/ragmcp/internal/config"
	logpkg "github.com/kailas-cloud/ragmcp/internal/logger"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
	chiTransport "github.com/kailas-cloud/ragmcp/internal/transport/chi"
	openaiChat "github.com/kailas-cloud/ragmcp/internal/transport/openai"
	answeruc "github.com/kailas-cloud/ragmcp/internal/usecase/answer"
	jobuc "github.com/kailas-cloud/ragmcp/internal/usecase/job"
	"github.com/kailas-cloud/ragmcp/internal/version"
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

	logger.Info("Starting ragmcp API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("chat_model", cfg.Chat.Model),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterJobMetrics()
	metrics.RegisterHTTPMetrics()

	p, err := bootstrap.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer p.Close()
	logger.Info("Connected to database", zap.String("backend", p.Store.Backend()))

	chat := openaiChat.NewChatCompleter(&openaiChat.ChatConfig{
		APIKey:      cfg.Chat.APIKey,
		BaseURL:     cfg.Chat.BaseURL,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
	})
	answerSvc := answeruc.New(p.Retrieve, chat, cfg.Retrieval.ScoreThreshold).
		WithLogger(logger.Named("answer"))
	jobSvc := jobuc.New(p.Ingest, cfg.Jobs.Workers, cfg.Jobs.QueueSize).
		WithLogger(logger.Named("jobs"))
	healthSvc := p.Health().WithProbe("chat", chat)

	server := chiTransport.NewServer(p.Retrieve, answerSvc, jobSvc, p.Records, healthSvc, chiTransport.Defaults{
		Collection:        cfg.Retrieval.DefaultCollection,
		SearchTopK:        cfg.Retrieval.SearchTopK,
		SearchThreshold:   cfg.Retrieval.SearchThreshold,
		QueryLimit:        cfg.Retrieval.DefaultLimit,
		Storage:           p.Store.Backend(),
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingModel:    cfg.Embedding.Model,
	}, logger).WithUsage(p.Usage())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return jobSvc.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
