// Package store provides a PostgreSQL-backed audit log of every order the
// engine has emitted, for reconciliation and post-hoc analysis.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gridtrader/internal/engine"
)

// Config holds database connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store wraps the PostgreSQL connection pool used to persist emitted orders.
type Store struct {
	Pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a Store.
func New(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)
	return &Store{Pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations creates the emitted_orders audit table if it does not exist.
func (s *Store) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS emitted_orders (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			kind VARCHAR(40) NOT NULL,
			qty DECIMAL(24, 10) NOT NULL,
			price DECIMAL(24, 10) NOT NULL,
			emitted_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emitted_orders_symbol ON emitted_orders(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_emitted_orders_emitted_at ON emitted_orders(emitted_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// RecordOrders persists the batch of orders a single tick emitted for
// symbol/side.
func (s *Store) RecordOrders(ctx context.Context, symbol, side string, orders []engine.GridOrder) error {
	if len(orders) == 0 {
		return nil
	}
	batch := make([][]interface{}, len(orders))
	for i, o := range orders {
		batch[i] = []interface{}{symbol, side, o.Kind.String(), o.Qty, o.Price, time.Now().UTC()}
	}
	_, err := s.Pool.CopyFrom(
		ctx,
		[]string{"emitted_orders"},
		[]string{"symbol", "side", "kind", "qty", "price", "emitted_at"},
		&pgxCopySource{rows: batch},
	)
	if err != nil {
		return fmt.Errorf("record orders: %w", err)
	}
	return nil
}

// pgxCopySource adapts a slice of row values to pgx.CopyFromSource.
type pgxCopySource struct {
	rows [][]interface{}
	idx  int
}

func (c *pgxCopySource) Next() bool {
	c.idx++
	return c.idx <= len(c.rows)
}

func (c *pgxCopySource) Values() ([]interface{}, error) {
	return c.rows[c.idx-1], nil
}

func (c *pgxCopySource) Err() error {
	return nil
}
