// Package database persists the decision audit trail and trade outcomes
// in PostgreSQL. The store is optional; the engine degrades to in-memory
// operation when it is absent.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects to PostgreSQL. Connection establishment is retried with
// exponential backoff so the process can start before the database accepts
// connections.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	log := logger.With().Str("component", "database").Logger()

	var pool *pgxpool.Pool
	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoffStrategy); err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the audit tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			trade_allowed BOOLEAN NOT NULL,
			direction VARCHAR(8) NOT NULL,
			entry_price DECIMAL(20, 8),
			stop_loss DECIMAL(20, 8),
			take_profit_1 DECIMAL(20, 8),
			take_profit_2 DECIMAL(20, 8),
			risk_reward DECIMAL(10, 4),
			position_pct DECIMAL(10, 4),
			notional DECIMAL(20, 8),
			score DECIMAL(10, 4) NOT NULL,
			confidence DECIMAL(10, 4) NOT NULL,
			coherence DECIMAL(10, 4) NOT NULL,
			rejection_reason TEXT,
			context_factors TEXT[],
			risk_warnings TEXT[],
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_trade_allowed ON decisions(trade_allowed)`,

		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			pnl_percent DECIMAL(10, 4) NOT NULL,
			exit_reason VARCHAR(20) NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_symbol ON trade_outcomes(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_closed_at ON trade_outcomes(closed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("migrations applied")
	return nil
}
