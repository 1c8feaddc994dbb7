package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// coderClient implements Client on top of github.com/coder/websocket. It is
// selected with transport "coder" and behaves like the gorilla client, except
// that protocol pings are answered inside the library and do not count as
// activity.
type coderClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error

	// readCtx is cancelled by Close once the close handshake is done.
	readCtx    context.Context
	readCancel context.CancelFunc

	mu           sync.RWMutex
	connected    bool
	lastActivity time.Time
	closed       bool
}

// NewCoderClient creates a new coder/websocket client.
func NewCoderClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &coderClient{
		cfg:        cfg,
		logger:     logger,
		messages:   make(chan TimestampedMessage, cfg.BufferSize),
		errors:     make(chan error, 1),
		readCtx:    ctx,
		readCancel: cancel,
	}
}

// Connect establishes the WebSocket connection.
func (c *coderClient) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	header, err := handshakeHeader(c.cfg)
	if err != nil {
		return err
	}

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return err
	}

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.CloseNow()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastActivity = time.Now()
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL, "transport", "coder")

	return nil
}

// Close gracefully closes the connection.
func (c *coderClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.readCancel()
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client close")
	c.readCancel()
	return err
}

// Send writes raw bytes to the connection.
func (c *coderClient) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	ctx := context.Background()
	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderClient) Messages() <-chan TimestampedMessage { return c.messages }

func (c *coderClient) Errors() <-chan error { return c.errors }

func (c *coderClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *coderClient) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *coderClient) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.Read(c.readCtx)
		receivedAt := time.Now()

		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if closed || c.readCtx.Err() != nil {
				return
			}
			select {
			case c.errors <- err:
			default:
			}
			return
		}

		c.mu.Lock()
		c.lastActivity = receivedAt
		c.mu.Unlock()

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.readCtx.Done():
			return
		default:
			c.logger.Warn("message buffer full, dropping frame", "transport", "coder")
		}
	}
}
