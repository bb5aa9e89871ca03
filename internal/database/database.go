// Package database manages the connection to the ClickHouse cluster that
// stores APM events.
//
// It handles:
//   - opening the connection pool from config and pinging it at start-up
//   - handing out per-caller clients (search.Factory)
//   - guarding every query with a circuit breaker
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/rs/zerolog"
)

// DatabasePingTimeout bounds the start-up ping.
const DatabasePingTimeout = 10 * time.Second

// Database wraps the ClickHouse connection pool.
type Database struct {
	Conn driver.Conn
	log  *zerolog.Logger
}

// New opens the ClickHouse pool described by cfg and pings it.
func New(cfg *config.Config, logger *zerolog.Logger) (*Database, error) {
	sc := cfg.Search

	opts := &clickhouse.Options{
		Addr: sc.Addr,
		Auth: clickhouse.Auth{
			Database: sc.Database,
			Username: sc.Username,
			Password: sc.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": sc.MaxExecutionTime,
		},
		DialTimeout:      sc.DialTimeout,
		MaxOpenConns:     sc.MaxOpenConns,
		MaxIdleConns:     sc.MaxIdleConns,
		ConnMaxLifetime:  sc.ConnMaxLifetime,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: cfg.Observability.ServiceName, Version: "1"},
			},
		},
	}
	if sc.Compression {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	if cfg.Primary.Env == "local" {
		opts.Debugf = func(format string, v ...any) {
			logger.Debug().Str("component", "clickhouse").Msgf(format, v...)
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logger.Info().
		Strs("addr", sc.Addr).
		Str("database", sc.Database).
		Msg("connected to clickhouse")

	return &Database{Conn: conn, log: logger}, nil
}

// Ping checks connectivity.
func (db *Database) Ping(ctx context.Context) error {
	return db.Conn.Ping(ctx)
}

// Close closes the connection pool.
func (db *Database) Close() error {
	db.log.Info().Msg("closing clickhouse connection pool")
	return db.Conn.Close()
}
