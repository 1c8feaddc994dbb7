// liveagent keeps one live-events session open, exposes its health and
// metrics, and archives moderation events to PostgreSQL.
// Usage: liveagent --config configs/liveagent.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/clipcast-live/internal/archive"
	"github.com/rickgao/clipcast-live/internal/auth"
	"github.com/rickgao/clipcast-live/internal/config"
	"github.com/rickgao/clipcast-live/internal/connection"
	"github.com/rickgao/clipcast-live/internal/database"
	"github.com/rickgao/clipcast-live/internal/dedup"
	"github.com/rickgao/clipcast-live/internal/metrics"
	"github.com/rickgao/clipcast-live/internal/model"
	"github.com/rickgao/clipcast-live/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/liveagent.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting liveagent",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"url", cfg.Realtime.URL,
		"transport", cfg.Realtime.Transport,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	creds, err := auth.LoadCredentials(cfg.Auth.Token, cfg.Auth.TokenFile, version.UserAgent("liveagent"))
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	if creds.Source == nil {
		logger.Warn("no auth token configured, connecting anonymously")
	}

	collector := metrics.NewCollector()

	mgrCfg, err := managerConfig(cfg, creds, collector)
	if err != nil {
		logger.Error("failed to configure connection manager", "error", err)
		os.Exit(1)
	}
	mgr := connection.NewManager(mgrCfg, logger)
	watchEvents(mgr, logger)

	// Admin archive
	var (
		db       pinger
		writer   *archive.Writer
		archived archiveStats
	)
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Archive.Database, "liveagent-"+cfg.Instance.ID)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare archive schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		writer = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)
		writer.Subscribe(mgr)
		collector.RegisterArchive(writer.Stats)
		db = pool
		archived = writer
	}

	g, gctx := errgroup.WithContext(ctx)

	// Health and metrics server
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHealthHandler(cfg.Instance.ID, mgr, db, archived, collector.Handler(), cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if writer != nil {
		if err := writer.Start(gctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			os.Exit(1)
		}
	}

	if err := mgr.Start(gctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	mgr.Connect()

	logger.Info("liveagent running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown or a failed server
	<-gctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("connection manager stop", "error", err)
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop", "error", err)
		}
	}
	healthServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.Error("liveagent stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("liveagent stopped")
}

// newLogger builds the slog logger selected by config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// managerConfig maps the realtime config section onto connection settings.
func managerConfig(cfg *config.Config, creds *auth.Credentials, m connection.Metrics) (connection.ManagerConfig, error) {
	r := cfg.Realtime

	mc := connection.DefaultManagerConfig()
	mc.Client.URL = r.URL
	mc.Client.Header = creds.Header
	mc.Client.HandshakeTimeout = r.HandshakeTimeout
	mc.Client.WriteTimeout = r.WriteTimeout
	mc.Client.ReadLimit = r.ReadLimit
	mc.Client.BufferSize = r.BufferSize

	switch r.Transport {
	case "coder":
		mc.NewClient = connection.NewCoderClient
	default:
		mc.NewClient = connection.NewClient
	}

	mc.ReconnectBaseWait = r.ReconnectBaseDelay
	mc.ReconnectMaxWait = r.ReconnectMaxDelay
	if r.ReconnectJitter != nil {
		mc.ReconnectJitter = *r.ReconnectJitter
	}
	mc.MaxAttempts = r.MaxAttempts
	mc.PingInterval = r.PingInterval
	mc.HeartbeatTimeout = r.HeartbeatTimeout
	mc.Metrics = m

	if r.DedupSize > 0 {
		f, err := dedup.New(r.DedupSize)
		if err != nil {
			return mc, err
		}
		mc.Dedup = f
	}

	return mc, nil
}

// watchEvents logs lifecycle and counter events.
func watchEvents(mgr connection.Manager, logger *slog.Logger) {
	mgr.On(connection.EventError, func(ev connection.Event) {
		logger.Warn("live connection error", "error", ev.Err)
	})
	mgr.On(connection.EventNotificationUnseen, connection.Typed(logger, func(u model.UnseenCount, _ connection.Event) {
		logger.Debug("unseen notifications", "count", u.Count)
	}))
	mgr.OnStateChange(func(c connection.StateChange) {
		if c.To == connection.StateError {
			logger.Error("live connection gave up, waiting for restart", "cause", c.Err)
		}
	})
}
