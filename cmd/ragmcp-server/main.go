package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/bootstrap"
	"github.com/kailas-cloud/ragmcp/internal/config"
	logpkg "github.com/kailas-cloud/ragmcp/internal/logger"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
	"github.com/kailas-cloud/ragmcp/internal/transport/rpc"
	"github.com/kailas-cloud/ragmcp/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.ServerName, version.String())
		return
	}

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// stdout carries protocol frames
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level, logpkg.WithStderr())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragmcp RPC server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("RPC server stopped", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("RPC server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRPCMetrics()

	p, err := bootstrap.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer p.Close()

	server := rpc.NewServer(p.Ingest, p.Retrieve, rpc.ServerConfig{
		DefaultCollection: cfg.Retrieval.DefaultCollection,
		DefaultLimit:      cfg.Retrieval.DefaultLimit,
		ScoreThreshold:    cfg.Retrieval.ScoreThreshold,
		MaxLineBytes:      cfg.RPC.MaxLineBytes,
	}).WithLogger(logger.Named("rpc"))

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
