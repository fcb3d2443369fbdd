package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wallet-notify/internal/realtime"
)

// DB is the subset of *pgxpool.Pool used by the archive.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Table:         "realtime_events",
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics are cumulative writer counters.
type WriterMetrics struct {
	Received int64
	Dropped  int64
	Inserts  int64
	Errors   int64
	Flushes  int64
}

// eventRow is one row of the events table.
type eventRow struct {
	ReceivedAt time.Time
	Type       string
	Topic      string
	ClientID   string
	Payload    string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClientID stamps every row with the identity returned by fn,
// typically realtime.Client.ClientID.
func WithClientID(fn func() string) WriterOption {
	return func(w *Writer) {
		w.clientID = fn
	}
}

// Writer batches realtime messages into the events table.
type Writer struct {
	cfg      WriterConfig
	logger   *slog.Logger
	db       DB
	clientID func() string
	insert   string

	// Input from the realtime read loop
	input chan eventRow

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewWriter creates a new Writer.
func NewWriter(cfg WriterConfig, db DB, logger *slog.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	w := &Writer{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		clientID: func() string { return "" },
		insert: fmt.Sprintf(
			`INSERT INTO %s (received_at, type, topic, client_id, payload) VALUES ($1, $2, $3, $4, $5)`,
			pgx.Identifier{cfg.Table}.Sanitize(),
		),
		input: make(chan eventRow, cfg.BufferSize),
		batch: make([]eventRow, 0, cfg.BatchSize),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Handler returns a realtime handler that archives every message it receives.
func (w *Writer) Handler() *realtime.Handler {
	return realtime.NewHandler(w.Handle)
}

// Handle queues a message for writing. It never blocks; when the queue is
// full the message is dropped.
func (w *Writer) Handle(msg realtime.Message) {
	row := w.transform(msg)

	select {
	case w.input <- row:
		w.batchMu.Lock()
		w.metrics.Received++
		w.batchMu.Unlock()
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		dropped := w.metrics.Dropped
		w.batchMu.Unlock()
		w.logger.Warn("archive queue full, event dropped",
			"type", msg.Type,
			"dropped_total", dropped,
		)
	}
}

// Start begins consuming queued messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"table", w.cfg.Table,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue, writes what is left and waits for the goroutines.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}

	// Pick up anything queued after the consumer exited
drain:
	for {
		select {
		case row := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			w.batchMu.Unlock()
		default:
			break drain
		}
	}

	// Final flush
	if err := w.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case row := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// transform converts a realtime message to an eventRow.
func (w *Writer) transform(msg realtime.Message) eventRow {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return eventRow{
		ReceivedAt: receivedAt.UTC(),
		Type:       msg.Type,
		Topic:      msg.Topic,
		ClientID:   w.clientID(),
		Payload:    string(msg.Data),
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(w.insert, r.ReceivedAt, r.Type, nullable(r.Topic), nullable(r.ClientID), r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
