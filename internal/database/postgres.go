package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"pulsebase-backend/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// listenerReserve is the floor for MinConns: the notification listener
// holds one connection permanently, and publishes must still find a warm
// one beside it.
const listenerReserve = 2

// NewPool opens the shared connection pool with the configured sizing.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	if poolCfg.MinConns < listenerReserve {
		poolCfg.MinConns = listenerReserve
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Retry connection (Postgres may not be ready yet in Docker)
	attempts := cfg.DBConnectAttempts
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Printf("Database connected (attempt %d)", attempt)
				return pool, nil
			}
			pool.Close()
		}
		log.Printf("DB connect attempt %d/%d failed: %v", attempt, attempts, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}
