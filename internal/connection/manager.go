package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager owns the live connection and exposes a publish/subscribe surface.
type Manager interface {
	// Start runs the event loop. Lifecycle commands posted before Start are
	// executed once the loop is running.
	Start(ctx context.Context) error

	// Stop disconnects and ends the event loop.
	Stop(ctx context.Context) error

	// Connect begins a session. It returns immediately; completion is
	// observed through the connected and error events.
	Connect()

	// Disconnect ends the session and cancels any pending reconnect.
	// Registered handlers are kept.
	Disconnect()

	// Send transmits one frame if currently connected and reports whether
	// it was handed to the transport. Nothing is queued.
	Send(t EventType, payload any) bool

	// On registers h for frames of type t. Handlers for one type run in
	// registration order.
	On(t EventType, h Handler) HandlerID

	// Off removes a registration. Safe to call from inside the handler.
	Off(t EventType, id HandlerID) bool

	// OnStateChange registers an observer and returns its disposer.
	OnStateChange(fn func(StateChange)) func()

	// State returns the current connection state.
	State() ConnectionState

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

type observer struct {
	id uint64
	fn func(StateChange)
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	backoff   Backoff
	newClient ClientFactory
	metrics   Metrics

	loop     *eventLoop
	handlers *registry

	obsMu     sync.Mutex
	obsNext   uint64
	observers []observer

	// Run lifecycle
	startMu   sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}

	// Read from any goroutine, written only on the loop.
	mu             sync.RWMutex
	state          ConnectionState
	client         Client
	session        string
	attempts       int
	connectedSince time.Time

	// Loop-only
	gen            uint64 // bumped whenever a session ends; stale callbacks compare against it
	dialCancel     context.CancelFunc
	sessionDone    chan struct{}
	reconnectTimer *time.Timer
	heartbeatTimer *time.Timer

	// Counters
	framesReceived atomic.Int64
	framesSent     atomic.Int64
	sendsDropped   atomic.Int64
	duplicates     atomic.Int64
	unknownFrames  atomic.Int64
	handlerPanics  atomic.Int64
	reconnects     atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	newClient := cfg.NewClient
	if newClient == nil {
		newClient = NewClient
	}

	var metrics Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &manager{
		cfg:       cfg,
		logger:    logger.With("component", "realtime"),
		backoff:   NewBackoff(cfg.ReconnectBaseWait, cfg.ReconnectMaxWait, cfg.ReconnectJitter),
		newClient: newClient,
		metrics:   metrics,
		loop:      newEventLoop(),
		handlers:  newRegistry(),
		state:     StateDisconnected,
	}
}

// Start runs the event loop until Stop is called or ctx is cancelled.
func (m *manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.started {
		return errors.New("connection manager already started")
	}
	m.started = true
	m.runCtx, m.runCancel = context.WithCancel(ctx)
	m.runDone = make(chan struct{})

	go func() {
		defer close(m.runDone)
		m.loop.run(m.runCtx)
		// Loop is gone; finish any session inline.
		m.disconnect()
	}()

	m.logger.Info("connection manager started", "url", m.cfg.Client.URL)
	return nil
}

// Stop disconnects and waits for the event loop to exit.
func (m *manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	started := m.started
	m.startMu.Unlock()
	if !started {
		return nil
	}

	m.logger.Info("stopping connection manager")

	posted := m.loop.post(func() {
		m.disconnect()
		m.runCancel()
	})
	if !posted {
		m.runCancel()
	}

	select {
	case <-m.runDone:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.runCancel()
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// Connect posts a connect command.
func (m *manager) Connect() {
	m.loop.post(m.connect)
}

// Disconnect posts a disconnect command.
func (m *manager) Disconnect() {
	m.loop.post(m.disconnect)
}

// On registers a handler.
func (m *manager) On(t EventType, h Handler) HandlerID {
	return m.handlers.add(t, h)
}

// Off removes a handler.
func (m *manager) Off(t EventType, id HandlerID) bool {
	return m.handlers.remove(t, id)
}

// OnStateChange registers a state observer.
func (m *manager) OnStateChange(fn func(StateChange)) func() {
	m.obsMu.Lock()
	m.obsNext++
	id := m.obsNext
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				next := make([]observer, 0, len(m.observers)-1)
				next = append(next, m.observers[:i]...)
				m.observers = append(next, m.observers[i+1:]...)
				return
			}
		}
	}
}

// State returns the current state.
func (m *manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	stats := ManagerStats{
		State:          m.state,
		Session:        m.session,
		Attempts:       m.attempts,
		ConnectedSince: m.connectedSince,
	}
	m.mu.RUnlock()

	stats.FramesReceived = m.framesReceived.Load()
	stats.FramesSent = m.framesSent.Load()
	stats.SendsDropped = m.sendsDropped.Load()
	stats.Duplicates = m.duplicates.Load()
	stats.UnknownFrames = m.unknownFrames.Load()
	stats.HandlerPanics = m.handlerPanics.Load()
	stats.Reconnects = m.reconnects.Load()
	return stats
}

// Send encodes and writes one frame.
func (m *manager) Send(t EventType, payload any) bool {
	if t == "" || t.Lifecycle() || t.Keepalive() {
		m.logger.Debug("refusing to send", "type", t, "error", ErrReservedEvent)
		m.dropSend(t, "reserved")
		return false
	}

	m.mu.RLock()
	state, c := m.state, m.client
	m.mu.RUnlock()

	if state != StateConnected || c == nil {
		m.logger.Debug("send while not connected, dropping", "type", t, "state", state)
		m.dropSend(t, "not_connected")
		return false
	}

	data, err := encodeFrame(t, payload)
	if err != nil {
		m.logger.Warn("failed to encode frame", "type", t, "error", err)
		m.dropSend(t, "encode")
		return false
	}

	if err := c.Send(data); err != nil {
		m.logger.Warn("send failed", "type", t, "error", err)
		m.dropSend(t, "write")
		return false
	}

	m.framesSent.Add(1)
	m.metrics.FrameSent(t)
	return true
}

func (m *manager) dropSend(t EventType, reason string) {
	m.sendsDropped.Add(1)
	m.metrics.SendDropped(t, reason)
}

// encodeFrame builds the outbound envelope.
func encodeFrame(t EventType, payload any) ([]byte, error) {
	f := Frame{
		Type: t,
		ID:   uuid.NewString(),
		TS:   time.Now().UnixMilli(),
	}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		f.Data = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		f.Data = data
	}

	return json.Marshal(f)
}

// -----------------------------------------------------------------------------
// Loop-side state machine. Everything below runs on the event loop goroutine.
// -----------------------------------------------------------------------------

// transition applies from -> to, runs entry, then notifies observers.
// Invalid edges are refused.
func (m *manager) transition(to ConnectionState, cause error, entry func()) bool {
	from := m.state
	if !CanTransition(from, to) {
		m.logger.Error("invalid state transition refused",
			"from", from,
			"to", to,
		)
		return false
	}

	m.mu.Lock()
	m.state = to
	m.mu.Unlock()

	if entry != nil {
		entry()
	}

	m.metrics.StateChanged(from, to)

	if cause != nil {
		m.logger.Info("state changed", "from", from, "to", to, "cause", cause)
	} else {
		m.logger.Info("state changed", "from", from, "to", to)
	}

	m.notify(StateChange{From: from, To: to, Err: cause, At: time.Now()})
	return true
}

func (m *manager) notify(change StateChange) {
	m.obsMu.Lock()
	list := make([]observer, len(m.observers))
	copy(list, m.observers)
	m.obsMu.Unlock()

	for _, o := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.handlerPanics.Add(1)
					m.logger.Error("state observer panicked", "panic", r)
				}
			}()
			o.fn(change)
		}()
	}
}

// connect handles the Connect command.
func (m *manager) connect() {
	switch m.state {
	case StateDisconnected, StateError:
		m.setAttempts(0)
		m.beginConnecting()
	default:
		m.logger.Debug("connect ignored", "state", m.state)
	}
}

// beginConnecting enters CONNECTING and starts an asynchronous dial.
func (m *manager) beginConnecting() {
	runCtx := m.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}

	session := uuid.NewString()
	gen := m.gen
	c := m.newClient(m.cfg.Client, m.logger.With("session", session))
	dialCtx, cancel := context.WithCancel(runCtx)

	ok := m.transition(StateConnecting, nil, func() {
		m.dialCancel = cancel
		m.mu.Lock()
		m.client = c
		m.session = session
		m.mu.Unlock()
	})
	if !ok {
		cancel()
		return
	}

	go func() {
		err := c.Connect(dialCtx)
		cancel()
		if !m.loop.post(func() { m.onDialResult(gen, c, err) }) {
			c.Close()
		}
	}()
}

// onDialResult completes a CONNECTING phase.
func (m *manager) onDialResult(gen uint64, c Client, err error) {
	if gen != m.gen || m.state != StateConnecting {
		// Session was abandoned while dialing.
		c.Close()
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.connectFailed(err)
		return
	}

	done := make(chan struct{})
	ok := m.transition(StateConnected, nil, func() {
		m.sessionDone = done
		m.mu.Lock()
		m.attempts = 0
		m.connectedSince = time.Now()
		m.mu.Unlock()
		m.startHeartbeat(gen)
	})
	if !ok {
		close(done)
		c.Close()
		return
	}

	go m.pump(gen, c, done)

	m.dispatch(Event{Type: EventConnected, ReceivedAt: time.Now()})
}

// connectFailed handles a failed dial while CONNECTING. The attempt
// counter holds consecutive failed dials and feeds the backoff.
func (m *manager) connectFailed(err error) {
	m.setAttempts(m.attempts + 1)
	m.logger.Warn("connection attempt failed",
		"attempt", m.attempts,
		"error", err,
	)

	m.closeClient()
	m.gen++

	switch {
	case isPermanent(err):
		m.transition(StateError, err, nil)
	case m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts:
		m.transition(StateError, fmt.Errorf("%w: %v", ErrAttemptsExhausted, err), nil)
	default:
		m.scheduleReconnect(err)
	}

	m.dispatch(Event{Type: EventError, ReceivedAt: time.Now(), Err: err})
}

// scheduleReconnect enters RECONNECTING and arms the backoff timer. A drop
// from CONNECTED has zero failed attempts and waits the base delay.
func (m *manager) scheduleReconnect(cause error) {
	gen := m.gen
	m.transition(StateReconnecting, cause, func() {
		delay := m.backoff.Delay(m.attempts)

		m.reconnects.Add(1)
		m.metrics.ReconnectScheduled(m.attempts, delay)
		m.logger.Info("reconnect scheduled",
			"attempt", m.attempts,
			"delay", delay,
		)

		m.reconnectTimer = time.AfterFunc(delay, func() {
			m.loop.post(func() {
				if gen != m.gen || m.state != StateReconnecting {
					return
				}
				m.reconnectTimer = nil
				m.beginConnecting()
			})
		})
	})
}

// dropSession handles a connection lost while CONNECTED.
func (m *manager) dropSession(cause error) {
	m.endSession()
	m.scheduleReconnect(cause)

	m.dispatch(Event{Type: EventDisconnected, ReceivedAt: time.Now(), Err: cause})
	m.dispatch(Event{Type: EventError, ReceivedAt: time.Now(), Err: cause})
}

// disconnect handles the Disconnect command and shutdown.
func (m *manager) disconnect() {
	if m.state == StateDisconnected {
		return
	}
	wasConnected := m.state == StateConnected

	m.transition(StateDisconnected, nil, func() {
		if m.dialCancel != nil {
			m.dialCancel()
			m.dialCancel = nil
		}
		if m.reconnectTimer != nil {
			m.reconnectTimer.Stop()
			m.reconnectTimer = nil
		}
		m.endSession()
	})

	if wasConnected {
		m.dispatch(Event{Type: EventDisconnected, ReceivedAt: time.Now()})
	}
}

// endSession stops the heartbeat and pump and closes the transport.
func (m *manager) endSession() {
	m.gen++
	m.stopHeartbeat()
	if m.sessionDone != nil {
		close(m.sessionDone)
		m.sessionDone = nil
	}
	m.closeClient()
}

func (m *manager) closeClient() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.connectedSince = time.Time{}
	m.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
	}
}

func (m *manager) setAttempts(n int) {
	m.mu.Lock()
	m.attempts = n
	m.mu.Unlock()
}

// pump forwards transport output for one session onto the loop.
func (m *manager) pump(gen uint64, c Client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.Messages():
			if !m.loop.post(func() { m.onFrame(gen, msg) }) {
				return
			}
		case err := <-c.Errors():
			// Frames read before the failure still go out first.
			for {
				select {
				case msg := <-c.Messages():
					m.loop.post(func() { m.onFrame(gen, msg) })
					continue
				default:
				}
				break
			}
			m.loop.post(func() { m.onTransportError(gen, err) })
			return
		}
	}
}

func (m *manager) onTransportError(gen uint64, err error) {
	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.logger.Warn("connection lost", "error", err)
	m.dropSession(err)
}

// -----------------------------------------------------------------------------
// Heartbeat
// -----------------------------------------------------------------------------

func (m *manager) startHeartbeat(gen uint64) {
	interval := m.cfg.PingInterval
	if interval <= 0 {
		return
	}
	m.heartbeatTimer = time.AfterFunc(interval, func() {
		m.loop.post(func() { m.heartbeat(gen) })
	})
}

func (m *manager) stopHeartbeat() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

// heartbeat checks liveness, sends a ping and re-arms the timer.
func (m *manager) heartbeat(gen uint64) {
	if gen != m.gen || m.state != StateConnected || m.heartbeatTimer == nil {
		return
	}

	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil {
		return
	}

	if timeout := m.cfg.HeartbeatTimeout; timeout > 0 {
		if silence := time.Since(c.LastActivity()); silence > timeout {
			m.logger.Warn("no frames from server, connection stale",
				"silence", silence,
				"timeout", timeout,
			)
			m.metrics.HeartbeatTimedOut()
			m.dropSession(ErrHeartbeatTimeout)
			return
		}
	}

	m.sendControl(c, EventPing)
	m.heartbeatTimer.Reset(m.cfg.PingInterval)
}

// sendControl writes a keep-alive frame, bypassing the reserved-type check.
func (m *manager) sendControl(c Client, t EventType) {
	data, err := json.Marshal(Frame{Type: t, TS: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		m.logger.Debug("failed to send keep-alive", "type", t, "error", err)
		return
	}
	m.framesSent.Add(1)
	m.metrics.FrameSent(t)
}

// -----------------------------------------------------------------------------
// Inbound dispatch
// -----------------------------------------------------------------------------

func (m *manager) onFrame(gen uint64, msg TimestampedMessage) {
	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.framesReceived.Add(1)

	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil || f.Type == "" {
		m.unknownFrames.Add(1)
		m.metrics.FrameReceived("invalid")
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}

	if !f.Type.Known() {
		m.unknownFrames.Add(1)
		m.metrics.FrameReceived("unknown")
		m.logger.Debug("dropping frame with unknown type", "type", f.Type)
		return
	}
	m.metrics.FrameReceived(f.Type)

	switch f.Type {
	case EventPing:
		m.mu.RLock()
		c := m.client
		m.mu.RUnlock()
		if c != nil {
			m.sendControl(c, EventPong)
		}
		return
	case EventPong:
		return
	case EventConnected, EventDisconnected:
		m.logger.Debug("dropping reserved lifecycle frame from server", "type", f.Type)
		return
	}

	if f.ID != "" && m.cfg.Dedup != nil && m.cfg.Dedup.Seen(f.ID) {
		m.duplicates.Add(1)
		m.metrics.DuplicateDropped(f.Type)
		m.logger.Debug("dropping duplicate frame", "type", f.Type, "id", f.ID)
		return
	}

	ev := Event{
		Type:       f.Type,
		ID:         f.ID,
		Data:       f.Data,
		ReceivedAt: msg.ReceivedAt,
	}
	if f.Type == EventError {
		ev.Err = serverError(f.Data)
	}
	m.dispatch(ev)
}

// serverError converts an error frame payload into an error value.
func serverError(data json.RawMessage) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || (body.Code == "" && body.Message == "") {
		return errors.New("server error")
	}
	return fmt.Errorf("server error %s: %s", body.Code, body.Message)
}

// dispatch invokes the handlers registered for ev.Type in order. The list
// is snapshotted first so handlers may unsubscribe during dispatch.
func (m *manager) dispatch(ev Event) {
	for _, reg := range m.handlers.snapshot(ev.Type) {
		m.invoke(reg, ev)
	}
}

func (m *manager) invoke(reg registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.handlerPanics.Add(1)
			m.metrics.HandlerPanicked(ev.Type)
			m.logger.Error("event handler panicked",
				"type", ev.Type,
				"handler", reg.id,
				"panic", r,
			)
		}
	}()
	reg.fn(ev)
}
