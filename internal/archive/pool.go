package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/wallet-notify/internal/config"
)

// connectRetryDelay is the base delay between pool connection attempts.
const connectRetryDelay = time.Second

// Connect creates a connection pool and pings it, retrying with backoff so the
// daemon can start before the database is reachable.
func Connect(ctx context.Context, cfg config.DBConfig, attempts uint, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts == 0 {
		attempts = 1
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	var pool *pgxpool.Pool
	err = retry.Do(
		func() error {
			p, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return fmt.Errorf("ping database: %w", err)
			}
			pool = p
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(connectRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database connection attempt failed",
				"attempt", n+1,
				"host", cfg.Host,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, err
	}

	return pool, nil
}
