// Package db opens the SQL databases the key-value store can live in and
// brings their schema up to date.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Driver names a supported SQL backend.
type Driver string

const (
	// DriverSQLite is the embedded pure-Go SQLite driver.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres is PostgreSQL through lib/pq.
	DriverPostgres Driver = "postgres"
)

// Valid reports whether d is a supported driver.
func (d Driver) Valid() bool {
	return d == DriverSQLite || d == DriverPostgres
}

func (d Driver) gooseDialect() string {
	if d == DriverSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// goose keeps its dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

// Open connects to dsn with driver, verifies the connection and applies
// pending migrations.
func Open(ctx context.Context, driver Driver, dsn string, log *zap.Logger) (*sql.DB, error) {
	if !driver.Valid() {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := Migrate(ctx, db, driver, log); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, driver Driver, log *zap.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{log: log})

	if err := goose.SetDialect(driver.gooseDialect()); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	log *zap.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}
