package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrHeartbeatTimeout  = errors.New("heartbeat timeout (no frames from server)")
	ErrAttemptsExhausted = errors.New("reconnection attempts exhausted")
	ErrReservedEvent     = errors.New("event type is reserved")
)

// HandshakeError is returned by Connect when the server answered the upgrade
// request with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same credentials is pointless.
func (e *HandshakeError) Permanent() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// isPermanent reports whether err should stop automatic reconnection.
func isPermanent(err error) bool {
	var hs *HandshakeError
	return errors.As(err, &hs) && hs.Permanent()
}

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Frame is the JSON envelope exchanged with the server in both directions.
type Frame struct {
	Type EventType       `json:"type"`
	ID   string          `json:"id,omitempty"`
	TS   int64           `json:"ts,omitempty"` // Unix millis, set on outbound frames
	Data json.RawMessage `json:"data,omitempty"`
}

// HeaderFunc returns the HTTP headers attached to each handshake.
// It is called once per dial so credentials can rotate between sessions.
type HeaderFunc func() (http.Header, error)

// ClientConfig configures a WebSocket transport client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://live.clipcast.app/ws)
	Header           HeaderFunc    // Handshake headers (nil = none)
	HandshakeTimeout time.Duration // Max time for the upgrade handshake
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = library default)
	BufferSize       int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		BufferSize:       256,
	}
}

// ClientFactory builds a fresh transport for one connection session.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client            ClientConfig  // Transport settings
	NewClient         ClientFactory // Transport constructor (nil = gorilla NewClient)
	ReconnectBaseWait time.Duration // Delay before the first retry after a drop
	ReconnectMaxWait  time.Duration // Backoff ceiling
	ReconnectJitter   float64       // Fractional jitter applied to each delay (0.2 = ±20%)
	MaxAttempts       int           // Consecutive failed dials before ERROR (0 = unlimited)
	PingInterval      time.Duration // Keep-alive frame interval while connected
	HeartbeatTimeout  time.Duration // Silence window after which the connection is dead
	Dedup             Filter        // Duplicate frame filter (nil = disabled)
	Metrics           Metrics       // Metrics hook (nil = no-op)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		ReconnectJitter:   0.2,
		PingInterval:      25 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
	}
}

// Filter reports whether a frame id has been seen recently.
// Seen records the id as a side effect.
type Filter interface {
	Seen(id string) bool
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State          ConnectionState
	Session        string
	Attempts       int
	ConnectedSince time.Time
	FramesReceived int64
	FramesSent     int64
	SendsDropped   int64
	Duplicates     int64
	UnknownFrames  int64
	HandlerPanics  int64
	Reconnects     int64
}
