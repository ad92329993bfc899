// Package db opens the bun handles behind the relational storage backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"greenmarket/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Pool defaults used when the config leaves a value at zero.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = time.Minute
)

// NewPostgres opens a pooled Postgres connection from the database config.
func NewPostgres(cfg config.DatabaseConfig) (*bun.DB, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, sslMode)

	bdb, err := NewWithDSN(dsn)
	if err != nil {
		return nil, err
	}
	tunePool(bdb.DB, cfg)
	return bdb, nil
}

// NewWithDSN connects to Postgres with a ready DSN. Tests use it with
// container connection strings.
func NewWithDSN(dsn string) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return connect(bun.NewDB(sqldb, pgdialect.New()), "postgres")
}

// NewSQLite opens a SQLite database; ":memory:" gives a private in-memory one.
// Foreign keys are on so deleting a student cascades to its transactions, and
// a single connection serializes writers.
func NewSQLite(path string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return connect(bun.NewDB(sqldb, sqlitedialect.New()), "sqlite")
}

func connect(bdb *bun.DB, dialect string) (*bun.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bdb.PingContext(ctx); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	slog.Info("database connected", "dialect", dialect)
	return bdb, nil
}

func tunePool(sqldb *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := orDefault(cfg.MaxOpenConns, defaultMaxOpenConns)
	maxIdle := orDefault(cfg.MaxIdleConns, defaultMaxIdleConns)
	lifetime := orDefault(time.Duration(cfg.ConnMaxLifetime)*time.Second, defaultConnMaxLifetime)
	idleTime := orDefault(time.Duration(cfg.ConnMaxIdleTime)*time.Second, defaultConnMaxIdleTime)

	sqldb.SetMaxOpenConns(maxOpen)
	sqldb.SetMaxIdleConns(maxIdle)
	sqldb.SetConnMaxLifetime(lifetime)
	sqldb.SetConnMaxIdleTime(idleTime)

	slog.Info("database pool configured",
		"max_open_conns", maxOpen,
		"max_idle_conns", maxIdle,
		"conn_max_lifetime", lifetime,
		"conn_max_idle_time", idleTime,
	)
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// CreateTables creates a table per model unless it exists.
func CreateTables(ctx context.Context, bdb *bun.DB, models ...any) error {
	for _, model := range models {
		if _, err := bdb.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
