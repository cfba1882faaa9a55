// Package repository provides the SQL implementation of storage.Store,
// usable with SQLite and PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/GophAuth/internal/db"
	"github.com/atinyakov/GophAuth/internal/storage"
)

// SQLStore keeps blobs in the kv table.
type SQLStore struct {
	// DB is the database handle for executing queries.
	DB     *sql.DB
	driver db.Driver
	now    func() time.Time
}

// NewSQLStore creates a store over an open, migrated database.
func NewSQLStore(conn *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{DB: conn, driver: driver, now: time.Now}
}

// Load fetches the value stored under key.
//
//	ctx: context for cancellation and deadlines
//	key: record key, see storage.ValidateKey
//
// Returns storage.ErrNotFound when no row exists.
func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv WHERE key = $1`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// Save inserts or replaces the value under key in a single statement.
func (s *SQLStore) Save(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, s.rebind(`
		INSERT INTO kv (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`), key, data, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// rebind rewrites $n placeholders to ? for SQLite.
func (s *SQLStore) rebind(query string) string {
	if s.driver != db.DriverSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
