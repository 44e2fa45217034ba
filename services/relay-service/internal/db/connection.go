package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
)

var Pool *pgxpool.Pool

func Init(ctx context.Context) error {
	connString := viper.GetString("database.url")
	if connString == "" {
		return fmt.Errorf("database.url not configured")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("invalid database.url: %w", err)
	}
	if n := viper.GetInt32("database.max_conns"); n > 0 {
		cfg.MaxConns = n
	}
	// Stream requests hold a connection only for the length of one poll.
	cfg.MaxConnIdleTime = 5 * time.Minute

	Pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
