package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/clipcast-live/internal/archive"
	"github.com/rickgao/clipcast-live/internal/connection"
	"github.com/rickgao/clipcast-live/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type archiveStats interface {
	Stats() archive.Metrics
}

type healthResponse struct {
	Status     string         `json:"status"`
	Instance   string         `json:"instance"`
	Version    version.Info   `json:"version"`
	Components map[string]any `json:"components"`
}

type connectionHealth struct {
	State          string     `json:"state"`
	Session        string     `json:"session,omitempty"`
	Attempts       int        `json:"attempts"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	FramesReceived int64      `json:"frames_received"`
	FramesSent     int64      `json:"frames_sent"`
	SendsDropped   int64      `json:"sends_dropped"`
	Duplicates     int64      `json:"duplicates"`
	HandlerPanics  int64      `json:"handler_panics"`
	Reconnects     int64      `json:"reconnects"`
}

// newHealthHandler creates the HTTP handler for health checks and metrics.
// db and writer are nil when the archive is disabled.
func newHealthHandler(
	instance string,
	mgr connection.Manager,
	db pinger,
	writer archiveStats,
	metricsHandler http.Handler,
	metricsPath string,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Instance:   instance,
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		// Check connection
		stats := mgr.Stats()
		conn := connectionHealth{
			State:          stats.State.String(),
			Session:        stats.Session,
			Attempts:       stats.Attempts,
			FramesReceived: stats.FramesReceived,
			FramesSent:     stats.FramesSent,
			SendsDropped:   stats.SendsDropped,
			Duplicates:     stats.Duplicates,
			HandlerPanics:  stats.HandlerPanics,
			Reconnects:     stats.Reconnects,
		}
		if !stats.ConnectedSince.IsZero() {
			since := stats.ConnectedSince
			conn.ConnectedSince = &since
		}
		health.Components["realtime"] = conn
		if stats.State != connection.StateConnected {
			health.Status = "degraded"
		}

		// Check database
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["archive_db"] = "connected"
			}
		}
		if writer != nil {
			health.Components["archive"] = writer.Stats()
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	if metricsHandler != nil {
		mux.Handle(metricsPath, metricsHandler)
	}

	return mux
}
