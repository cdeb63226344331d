package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists memory records in a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			category TEXT NOT NULL,
			qualifier TEXT NOT NULL,
			user_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			value_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (category, qualifier, user_id, item_key)
		);`,
		`CREATE INDEX IF NOT EXISTS memories_ns_idx ON memories(category, qualifier, user_id, created_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (category, qualifier, user_id, item_key, value_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, qualifier, user_id, item_key)
		DO UPDATE SET value_json = excluded.value_json, updated_at_ms = excluded.updated_at_ms`,
		string(ns.Category), ns.Qualifier, ns.UserID, key, string(value), now, now)
	if err != nil {
		return fmt.Errorf("put memory record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_key, value_json, created_at_ms, updated_at_ms FROM memories
		WHERE category = ? AND qualifier = ? AND user_id = ? AND item_key = ?`,
		string(ns.Category), ns.Qualifier, ns.UserID, key)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get memory record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Search(ctx context.Context, ns Namespace) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_key, value_json, created_at_ms, updated_at_ms FROM memories
		WHERE category = ? AND qualifier = ? AND user_id = ?
		ORDER BY created_at_ms ASC, rowid ASC`,
		string(ns.Category), ns.Qualifier, ns.UserID)
	if err != nil {
		return nil, fmt.Errorf("search namespace: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespace: %w", err)
	}
	return out, nil
}

// Namespaces lists every populated namespace of the given category.
func (s *SQLiteStore) Namespaces(ctx context.Context, category Category) ([]Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT qualifier, user_id FROM memories WHERE category = ?`,
		string(category))
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []Namespace
	for rows.Next() {
		ns := Namespace{Category: category}
		if err := rows.Scan(&ns.Qualifier, &ns.UserID); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}
	return out, nil
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec       Record
		value     string
		createdMS int64
		updatedMS int64
	)
	if err := scan(&rec.Key, &value, &createdMS, &updatedMS); err != nil {
		return Record{}, err
	}
	rec.Value = json.RawMessage(value)
	rec.CreatedAt = time.UnixMilli(createdMS)
	rec.UpdatedAt = time.UnixMilli(updatedMS)
	return rec, nil
}
