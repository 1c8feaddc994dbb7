// livetail connects to the live-events endpoint and prints events to the console.
// Usage: go run ./cmd/livetail --url wss://live.clipcast.app/ws --token-file ~/.clipcast/token
//
// The token may also come from the CLIPCAST_TOKEN environment variable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/clipcast-live/internal/auth"
	"github.com/rickgao/clipcast-live/internal/connection"
	"github.com/rickgao/clipcast-live/internal/version"
)

var defaultTypes = []connection.EventType{
	connection.EventMessageNew,
	connection.EventMessageSeen,
	connection.EventNotificationNew,
	connection.EventNotificationUnseen,
	connection.EventAdminUserBanned,
	connection.EventAdminVideoDeleted,
	connection.EventAdminReportResolved,
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "live-events WebSocket URL")
	token := flag.String("token", os.Getenv("CLIPCAST_TOKEN"), "bearer token")
	tokenFile := flag.String("token-file", "", "path to a file holding the bearer token")
	transport := flag.String("transport", "gorilla", "websocket transport: gorilla or coder")
	types := flag.String("types", "", "comma-separated event types to print (default: all domain events)")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	subscribed, err := parseTypes(*types)
	if err != nil {
		logger.Error("invalid -types", "error", err)
		os.Exit(2)
	}

	creds, err := auth.LoadCredentials(*token, *tokenFile, version.UserAgent("livetail"))
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultManagerConfig()
	cfg.Client.URL = *url
	cfg.Client.Header = creds.Header
	switch *transport {
	case "gorilla":
	case "coder":
		cfg.NewClient = connection.NewCoderClient
	default:
		logger.Error("unknown transport", "transport", *transport)
		os.Exit(2)
	}

	mgr := connection.NewManager(cfg, logger)

	for _, t := range subscribed {
		mgr.On(t, func(ev connection.Event) { printEvent(ev, *verbose) })
	}
	mgr.On(connection.EventError, func(ev connection.Event) {
		fmt.Printf("[ERROR] %v\n", ev.Err)
	})
	mgr.OnStateChange(func(c connection.StateChange) {
		fmt.Printf("[STATE] %s -> %s\n", c.From, c.To)
		if c.To == connection.StateError {
			cancel()
		}
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	mgr.Connect()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.Stats()
				logger.Info("stats",
					"state", s.State,
					"received", s.FramesReceived,
					"sent", s.FramesSent,
					"duplicates", s.Duplicates,
					"unknown", s.UnknownFrames,
					"reconnects", s.Reconnects,
				)
			}
		}
	}()

	logger.Info("tailing live events - press Ctrl+C to stop", "url", *url)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	mgr.Stop(shutdownCtx)

	if mgr.State() == connection.StateError {
		os.Exit(1)
	}
}

func parseTypes(s string) ([]connection.EventType, error) {
	if strings.TrimSpace(s) == "" {
		return defaultTypes, nil
	}

	var out []connection.EventType
	for _, part := range strings.Split(s, ",") {
		t := connection.EventType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !t.Known() || t.Lifecycle() || t.Keepalive() {
			return nil, fmt.Errorf("unsupported event type %q", t)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no event types in %q", s)
	}
	return out, nil
}

func printEvent(ev connection.Event, verbose bool) {
	if verbose {
		var pretty json.RawMessage = ev.Data
		if data, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			fmt.Printf("[%s] id=%s\n%s\n", strings.ToUpper(string(ev.Type)), ev.ID, data)
			return
		}
	}
	fmt.Printf("[%s] id=%s bytes=%d at=%s\n",
		strings.ToUpper(string(ev.Type)), ev.ID, len(ev.Data), ev.ReceivedAt.Format(time.TimeOnly))
}
