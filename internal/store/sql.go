package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/flashgen/internal/database"
)

// SQL keeps entries in the kv_entries table of a MySQL or SQLite database.
type SQL struct {
	db      *sql.DB
	dialect string
	upsert  string
}

// NewSQL wraps an open, migrated database.
func NewSQL(db *sql.DB, dialect string) *SQL {
	return &SQL{db: db, dialect: dialect, upsert: database.UpsertQuery(dialect)}
}

// OpenSQL connects and migrates before returning the store.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQL, error) {
	db, err := database.Connect(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQL(db, dialect), nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT entry_value FROM kv_entries WHERE entry_key = ?`
	var value []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %s: %w", key, err)
	}
	return value, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value); err != nil {
		return fmt.Errorf("set entry %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE entry_key = ?`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }
