// Package archive persists realtime events to PostgreSQL.
//
// The Writer is registered as a realtime handler. Handle never blocks the
// read loop: events go through a bounded queue and are dropped with a warning
// when it is full. Rows are batched and written with pgx.Batch when the batch
// fills or the flush interval elapses.
//
// Schema (see EnsureSchema):
//
//	received_at timestamptz, type text, topic text, client_id text, payload jsonb
//
// Events are append-only.
package archive
