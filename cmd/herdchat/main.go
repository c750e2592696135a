package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"herdchat/api"
	"herdchat/auth"
	"herdchat/feed"
	"herdchat/feed/natsfeed"
	"herdchat/internal"
	"herdchat/moderation"
	"herdchat/presence"
	"herdchat/repositories"
	"herdchat/runtime"
	"herdchat/runtime/workers"
	"herdchat/services"
	"herdchat/session"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "herdchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the RPC server and workers.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := config.CharacterRune()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	// Defer ensures the database lock is released and buffers are flushed before run() returns.
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if log.Enabled(ctx, slog.LevelDebug) {
		internal.StartDebugServer(db, config.DebugPort)
		log.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
	}

	// 3. Live feed
	// NATS when configured, in-process fanout for single-node deployments.
	var chatFeed feed.Feed
	if config.NatsURL != "" {
		natsFeed, err := natsfeed.New(config.NatsURL, log, config.BufferSize)
		if err != nil {
			return exitRuntime, fmt.Errorf("nats feed: %w", err)
		}
		chatFeed = natsFeed
		log.Info("Using NATS feed", "url", config.NatsURL)
	} else {
		chatFeed = feed.NewLocalFeed(log, config.BufferSize)
		log.Info("Using in-process feed")
	}
	defer func() {
		log.Info("Closing feed...")
		_ = chatFeed.Close()
	}()

	// 4. Moderation
	censored, err := moderation.LoadEmbedded()
	if err != nil {
		return exitRuntime, fmt.Errorf("load censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, charReplacement)
	if err != nil {
		return exitRuntime, fmt.Errorf("build moderator: %w", err)
	}

	// 5. Repositories & Services
	profiles := repositories.NewProfileRepository(db)
	service := services.NewChatService(services.Params{
		Log:              log,
		Registry:         runtime.NewChannelRegistry(log, repositories.NewChannelRepository(db)),
		Messages:         repositories.NewMessageRepository(db, log),
		Profiles:         profiles,
		Feed:             chatFeed,
		Moderator:        &moderator,
		MaxContentLength: config.MaxContentLength,
		HistoryLimit:     config.HistoryLimit,
		SessionOptions: session.Options{
			HistoryLimit:     config.HistoryLimit,
			ReconnectWait:    config.ReconnectWait,
			MaxContentLength: config.MaxContentLength,
		},
	})

	tokens := auth.NewTokens(config.TokenSecret, config.AuthTokenDuration)
	rpc := api.NewRPC(tokens, service, presence.NewResolver(profiles, log))
	server := api.NewServer(log, config.ListenAddr(), rpc)

	// 6. Context, Signals & Supervision
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(server, workers.NewHeartbeatWorker(log, config.MetricInterval))

	log.Info("Starting herdchat", "addr", config.ListenAddr())
	// Run blocks until the context is canceled and every worker has drained.
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return exitOK, nil
}
