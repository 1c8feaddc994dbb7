package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/clipcast-live/internal/connection"
)

// fakeDB records batches and reports a conflict for event ids already seen.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[string]bool
	batches [][]*pgx.QueuedQuery
	execErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: map[string]bool{}}
}

func (db *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.batches = append(db.batches, b.QueuedQueries)

	res := &fakeResults{err: db.execErr}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0].(string)
		if db.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		db.seen[id] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (db *fakeDB) rowCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, b := range db.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func adminEvent(id string) connection.Event {
	return connection.Event{
		Type:       connection.EventAdminUserBanned,
		ID:         id,
		Data:       json.RawMessage(`{"user_id":"u-1","moderator_id":"a-1"}`),
		ReceivedAt: time.UnixMicro(1705321845123456),
	}
}

func TestWriter_BatchInsert(t *testing.T) {
	db := newFakeDB()
	cfg := Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}
	w := NewWriter(cfg, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Handle(adminEvent("e1"))
	w.Handle(adminEvent("e2"))
	w.Handle(adminEvent("e1")) // replayed after reconnect

	deadline := time.Now().Add(time.Second)
	for db.rowCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Inserts != 2 {
		t.Errorf("Inserts = %d, want 2", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	q := db.batches[0][0]
	if q.Arguments[1] != "admin:user_banned" {
		t.Errorf("event_type = %v", q.Arguments[1])
	}
	if q.Arguments[2] != int64(1705321845123456) {
		t.Errorf("received_at = %v, want µs", q.Arguments[2])
	}
}

func TestWriter_FlushOnInterval(t *testing.T) {
	db := newFakeDB()
	cfg := Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 10}
	w := NewWriter(cfg, db, nil)
	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.Handle(adminEvent("e1"))

	deadline := time.Now().Add(time.Second)
	for db.rowCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rowCount() != 1 {
		t.Fatalf("rows = %d, want 1 after flush interval", db.rowCount())
	}
}

func TestWriter_StopFlushesPending(t *testing.T) {
	db := newFakeDB()
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}
	w := NewWriter(cfg, db, nil)
	w.Start(context.Background())

	w.Handle(adminEvent("e1"))
	w.Handle(adminEvent("e2"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if db.rowCount() != 2 {
		t.Errorf("rows = %d, want 2 after Stop", db.rowCount())
	}
}

func TestWriter_HandleNeverBlocks(t *testing.T) {
	db := newFakeDB()
	cfg := Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 2}
	w := NewWriter(cfg, db, nil) // not started, nothing consumes

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			w.Handle(adminEvent(string(rune('a' + i))))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a full buffer")
	}

	if got := w.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestWriter_RejectsMissingID(t *testing.T) {
	w := NewWriter(DefaultConfig(), newFakeDB(), nil)
	w.Handle(connection.Event{Type: connection.EventAdminVideoDeleted})

	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if len(w.input) != 0 {
		t.Error("event without id was queued")
	}
}

func TestWriter_EmptyPayload(t *testing.T) {
	w := NewWriter(DefaultConfig(), newFakeDB(), nil)
	w.Handle(connection.Event{Type: connection.EventAdminVideoDeleted, ID: "x", ReceivedAt: time.Now()})

	row := <-w.input
	if string(row.Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", row.Payload)
	}
}

func TestWriter_InsertError(t *testing.T) {
	db := newFakeDB()
	db.execErr = errors.New("relation \"admin_events\" does not exist")
	cfg := Config{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 10}
	w := NewWriter(cfg, db, nil)
	w.Start(context.Background())

	w.Handle(adminEvent("e1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", stats.Inserts)
	}
}

type recordingManager struct {
	connection.Manager
	types []connection.EventType
}

func (m *recordingManager) On(t connection.EventType, h connection.Handler) connection.HandlerID {
	m.types = append(m.types, t)
	return connection.HandlerID(len(m.types))
}

func TestWriter_Subscribe(t *testing.T) {
	m := &recordingManager{}
	NewWriter(DefaultConfig(), newFakeDB(), nil).Subscribe(m)

	if len(m.types) != len(Events) {
		t.Fatalf("subscribed to %v, want %v", m.types, Events)
	}
	for i, typ := range Events {
		if m.types[i] != typ {
			t.Errorf("subscription %d = %s, want %s", i, m.types[i], typ)
		}
	}
}
