package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wallet-notify/internal/config"
	"github.com/rickgao/wallet-notify/internal/realtime"
)

// fakeDB records queued statements.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	execs   []string
	failErr error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.failErr
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{err: f.failErr}
}

func (f *fakeDB) rows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

func testMessage(msgType, topic string) realtime.Message {
	return realtime.Message{
		Type:       msgType,
		Topic:      topic,
		Data:       json.RawMessage(`{"type":"` + msgType + `"}`),
		ReceivedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestWriter_Transform(t *testing.T) {
	w := NewWriter(DefaultWriterConfig(), nil, nil, WithClientID(func() string { return "client-1" }))

	row := w.transform(testMessage(realtime.TypeWalletUpdate, realtime.TopicWalletUpdates))

	if row.Type != "wallet_update" {
		t.Errorf("Type = %s, want wallet_update", row.Type)
	}
	if row.Topic != "wallet_updates" {
		t.Errorf("Topic = %s, want wallet_updates", row.Topic)
	}
	if row.ClientID != "client-1" {
		t.Errorf("ClientID = %s, want client-1", row.ClientID)
	}
	if row.Payload != `{"type":"wallet_update"}` {
		t.Errorf("Payload = %s", row.Payload)
	}
	if !row.ReceivedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", row.ReceivedAt)
	}
}

func TestWriter_TransformZeroTime(t *testing.T) {
	w := NewWriter(DefaultWriterConfig(), nil, nil)
	row := w.transform(realtime.Message{Type: "stats"})
	if row.ReceivedAt.IsZero() {
		t.Error("zero ReceivedAt should be replaced with now")
	}
	if row.ClientID != "" {
		t.Errorf("ClientID = %q, want empty", row.ClientID)
	}
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(WriterConfig{}, nil, nil)
	def := DefaultWriterConfig()
	if w.cfg != def {
		t.Errorf("cfg = %+v, want %+v", w.cfg, def)
	}
	if !strings.Contains(w.insert, `INSERT INTO "realtime_events"`) {
		t.Errorf("insert = %s", w.insert)
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(context.Background())

	for i := 0; i < 3; i++ {
		w.Handle(testMessage(realtime.TypeNotification, ""))
	}

	waitFor(t, "batch flush", func() bool { return db.batchCount() == 1 })

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	args := rows[0].Arguments
	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}
	if args[1] != "notification" {
		t.Errorf("type arg = %v", args[1])
	}
	if topic, ok := args[2].(*string); !ok || topic != nil {
		t.Errorf("empty topic should be NULL, got %#v", args[2])
	}

	stats := w.Stats()
	if stats.Inserts != 3 || stats.Flushes != 1 || stats.Received != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriter_FlushOnInterval(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 10}, db, nil)

	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.Handle(testMessage(realtime.TypeSystemStatus, realtime.TopicSystemStatus))

	waitFor(t, "interval flush", func() bool { return len(db.rows()) == 1 })

	topic, ok := db.rows()[0].Arguments[2].(*string)
	if !ok || topic == nil || *topic != "system_status" {
		t.Errorf("topic arg = %#v", db.rows()[0].Arguments[2])
	}
}

func TestWriter_StopFlushesRemaining(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	w.Start(context.Background())
	for i := 0; i < 5; i++ {
		w.Handle(testMessage(realtime.TypeImportProgress, realtime.ImportTopic("7")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := len(db.rows()); got != 5 {
		t.Errorf("rows after Stop = %d, want 5", got)
	}
}

func TestWriter_HandleDropsWhenFull(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, db, nil)

	// Not started: nothing consumes the queue.
	for i := 0; i < 5; i++ {
		w.Handle(testMessage(realtime.TypeNotification, ""))
	}

	stats := w.Stats()
	if stats.Received != 2 {
		t.Errorf("Received = %d, want 2", stats.Received)
	}
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{failErr: errors.New("connection reset")}
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	w.Start(context.Background())
	w.Handle(testMessage(realtime.TypeError, ""))

	err := w.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Stop error = %v, want connection reset", err)
	}
	if w.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Stats().Errors)
	}
}

func TestWriter_HandlerIsRealtimeHandler(t *testing.T) {
	w := NewWriter(DefaultWriterConfig(), &fakeDB{}, nil)
	if w.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := EnsureSchema(context.Background(), db, "events"); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("execs = %d, want 2", len(db.execs))
	}
	if !strings.Contains(db.execs[0], `CREATE TABLE IF NOT EXISTS "events"`) {
		t.Errorf("create table = %s", db.execs[0])
	}
	if !strings.Contains(db.execs[1], `"events_received_at_idx"`) {
		t.Errorf("create index = %s", db.execs[1])
	}

	db.failErr = errors.New("permission denied")
	if err := EnsureSchema(context.Background(), db, "events"); err == nil {
		t.Error("expected error")
	}
}

func TestConnect_Errors(t *testing.T) {
	t.Run("invalid ssl mode", func(t *testing.T) {
		cfg := config.DBConfig{Host: "localhost", Port: 5432, Name: "db", User: "u", Password: "p", SSLMode: "bogus", MaxConns: 1}
		if _, err := Connect(context.Background(), cfg, 1, nil); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		cfg := config.DBConfig{Host: "127.0.0.1", Port: 1, Name: "db", User: "u", Password: "p", SSLMode: "disable", MaxConns: 1}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := Connect(ctx, cfg, 1, nil); err == nil {
			t.Error("expected connection error")
		}
	})
}
