package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/clipcast-live/internal/connection"
	"github.com/rickgao/clipcast-live/internal/model"
)

// Events lists the event types archived by Subscribe.
var Events = []connection.EventType{
	connection.EventAdminUserBanned,
	connection.EventAdminVideoDeleted,
	connection.EventAdminReportResolved,
}

const insertSQL = `
	INSERT INTO admin_events (event_id, event_type, received_at, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (event_id) DO NOTHING
`

// BatchSender is the subset of *pgxpool.Pool used by the writer.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer settings.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits in the batch
	BufferSize    int           // Input channel capacity
	WriteTimeout  time.Duration // Per-flush database timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
		WriteTimeout:  10 * time.Second,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// Writer batches admin events into the admin_events table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender

	input chan model.AdminEvent

	// Batching
	batch   []model.AdminEvent
	batchMu sync.Mutex

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "archive"),
		input:  make(chan model.AdminEvent, cfg.BufferSize),
		batch:  make([]model.AdminEvent, 0, cfg.BatchSize),
	}
}

// Subscribe registers the writer for every archived event type.
func (w *Writer) Subscribe(m connection.Manager) {
	for _, t := range Events {
		m.On(t, w.Handle)
	}
}

// Handle enqueues one event. It never blocks.
func (w *Writer) Handle(ev connection.Event) {
	if ev.ID == "" {
		// Without a frame id there is no idempotent key.
		w.logger.Warn("admin event without id, not archived", "type", ev.Type)
		w.countDropped()
		return
	}

	payload := []byte(ev.Data)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	row := model.AdminEvent{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		ReceivedAt: model.ToMicros(ev.ReceivedAt),
		Payload:    payload,
	}

	select {
	case w.input <- row:
	default:
		w.logger.Warn("archive buffer full, dropping event", "type", ev.Type, "id", ev.ID)
		w.countDropped()
	}
}

func (w *Writer) countDropped() {
	w.batchMu.Lock()
	w.metrics.Dropped++
	w.batchMu.Unlock()
}

// Start begins consuming events.
func (w *Writer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains buffered events, flushes and waits for the writer to exit.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("archive writer stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.flush()
			return
		case row := <-w.input:
			w.add(row)
		case <-ticker.C:
			w.flush()
		}
	}
}

// drain moves whatever is still buffered into the batch.
func (w *Writer) drain() {
	for {
		select {
		case row := <-w.input:
			w.add(row)
		default:
			return
		}
	}
}

func (w *Writer) add(row model.AdminEvent) {
	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]model.AdminEvent, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	// Not tied to the run context so the final flush on Stop still lands.
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed admin events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []model.AdminEvent) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.EventID, r.EventType, r.ReceivedAt, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
