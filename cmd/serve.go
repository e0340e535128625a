package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/spamguard/core/internal/audit"
	"github.com/spamguard/core/internal/config"
	"github.com/spamguard/core/internal/eventlog"
	"github.com/spamguard/core/internal/janitor"
	"github.com/spamguard/core/internal/platform"
	"github.com/spamguard/core/internal/security"
	"github.com/spamguard/core/internal/spam"
	"github.com/spamguard/core/internal/telemetry"
	"github.com/spamguard/core/internal/verification"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the moderation engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe builds the full dependency graph — config store, scoring
// engine, platform adapter, audit sink, telemetry, janitor — and runs
// the gateway until an interrupt, the teacher's cmd/gateway.go
// composition-root shape scaled down to this module's domain.
func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	store := config.New(cfgPath)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := store.WatchFile(); err != nil {
		slog.Warn("config file watch unavailable", "error", err)
	}
	defer store.Close()

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	adapter := platform.NewDiscordAdapter(session)
	engine := spam.NewEngine()

	store.OnReload(func(tenantID string) {
		engine.Invalidate(tenantID)
	})

	var sink eventlog.Sink
	if dsn := os.Getenv("SPAMGUARD_POSTGRES_DSN"); dsn != "" {
		pgSink, closeSink, err := audit.OpenSink(dsn)
		if err != nil {
			return fmt.Errorf("open postgres audit sink: %w", err)
		}
		defer closeSink()
		sink = pgSink
		slog.Info("postgres audit sink enabled")
	}
	logger := eventlog.New(slog.Default(), sink)

	runtime := security.New(store, engine, adapter, logger)
	verifier := verification.New(store, adapter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := telemetry.Setup(ctx)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	sweeper := janitor.New(engine, verifier, os.Getenv("SPAMGUARD_JANITOR_CRON"))
	go sweeper.Run(ctx)

	registerGatewayHandlers(session, store, runtime, verifier, adapter, tracer)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer session.Close()

	slog.Info("spamguard gateway starting", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	return nil
}
