package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureSchema creates the events table and its time index if missing.
func EnsureSchema(ctx context.Context, db DB, table string) error {
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_received_at_idx"}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          bigserial PRIMARY KEY,
				received_at timestamptz NOT NULL,
				type        text NOT NULL,
				topic       text,
				client_id   text,
				payload     jsonb NOT NULL
			)`, ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (received_at)`, index, ident),
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", table, err)
		}
	}
	return nil
}
