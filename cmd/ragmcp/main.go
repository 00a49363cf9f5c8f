package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kailas-cloud/ragmcp/internal/cli"
	"github.com/kailas-cloud/ragmcp/internal/config"
	logpkg "github.com/kailas-cloud/ragmcp/internal/logger"
	openaiChat "github.com/kailas-cloud/ragmcp/internal/transport/openai"
)

func main() {
	// .env is optional; it feeds ${VAR} expansion in the config file
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logger, err := logpkg.NewLogger(env, level, logpkg.WithStderr())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var apiKey string
	if len(cfg.Auth.APIKeys) > 0 {
		apiKey = cfg.Auth.APIKeys[0]
	}

	app := &cli.App{
		Out:  os.Stdout,
		Dial: cli.DialProcess,
		Settings: cli.Settings{
			ServerPath:     cfg.RPC.ServerPath,
			Collection:     cfg.Retrieval.DefaultCollection,
			Limit:          cfg.Retrieval.DefaultLimit,
			ScoreThreshold: cfg.Retrieval.ScoreThreshold,
			APIURL:         cfg.RPC.APIURL,
			APIKey:         apiKey,
		},
		Completer: openaiChat.NewChatCompleter(&openaiChat.ChatConfig{
			APIKey:      cfg.Chat.APIKey,
			BaseURL:     cfg.Chat.BaseURL,
			Model:       cfg.Chat.Model,
			Temperature: cfg.Chat.Temperature,
		}),
		InjectDelay: 200 * time.Millisecond,
		Logger:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = app.Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = logger.Sync()
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
