// Package postgres is the relational store behind challenge issuance,
// verification, and restaurant trust state. It is the sole source of
// truth for rate limiting and lockout: no counter lives in memory or
// in a cache.
package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// storeTimeout bounds every statement the repositories run.
const storeTimeout = 5 * time.Second

// PGClient wraps the pgx connection pool shared by the repositories.
type PGClient struct {
	pool *pgxpool.Pool
}

func NewPGClient(cfg *config.Config) (*PGClient, error) {
	dbConfig := cfg.Database

	poolConfig, err := pgxpool.ParseConfig(dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if dbConfig.MaxConns > 0 {
		poolConfig.MaxConns = int32(dbConfig.MaxConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	util.Info("Postgres client initialized",
		zap.String("host", dbConfig.Host),
		zap.Int("port", dbConfig.Port),
		zap.String("database", dbConfig.DBName),
		zap.Int("max_conns", dbConfig.MaxConns),
	)

	return &PGClient{pool: pool}, nil
}

// Pool exposes the underlying pool to the repositories.
func (c *PGClient) Pool() *pgxpool.Pool {
	return c.pool
}

// RunMigrations applies every *.sql file in the directory in lexical
// order. Statements are idempotent (CREATE TABLE IF NOT EXISTS), so
// re-running on startup is safe.
func (c *PGClient) RunMigrations(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := c.pool.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		util.Info("Applied migration", zap.String("file", name))
	}

	return nil
}

func (c *PGClient) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *PGClient) Close() {
	if c.pool != nil {
		c.pool.Close()
		util.Info("Postgres pool closed")
	}
}
