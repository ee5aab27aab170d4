package truncation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a sqlite database, the backend for
// multi-worker deployments. Read-once semantics come from a single
// DELETE ... RETURNING statement, atomic per key without any lock in this
// process.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS truncation_records (
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS idx_truncation_created ON truncation_records (created_at);
`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite truncation store requires a path")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open truncation db %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init truncation schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) put(ctx context.Context, kind, key string, v any, createdAt time.Time) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO truncation_records (kind, key, payload, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		kind, key, string(payload), createdAt.Unix())
	return err
}

// take deletes the row and returns its payload in one statement, so
// concurrent takers of the same key cannot both succeed.
func (s *SQLiteStore) take(ctx context.Context, kind, key string, v any) (bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM truncation_records WHERE kind = ? AND key = ? RETURNING payload`,
		kind, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) PutTool(ctx context.Context, rec ToolRecord) error {
	return s.put(ctx, "tool", rec.ToolCallID, rec, rec.CreatedAt)
}

func (s *SQLiteStore) TakeTool(ctx context.Context, toolCallID string) (*ToolRecord, error) {
	var rec ToolRecord
	ok, err := s.take(ctx, "tool", toolCallID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) PutContent(ctx context.Context, rec ContentRecord) error {
	return s.put(ctx, "content", rec.Key, rec, rec.CreatedAt)
}

func (s *SQLiteStore) TakeContent(ctx context.Context, key string) (*ContentRecord, error) {
	var rec ContentRecord
	ok, err := s.take(ctx, "content", key, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM truncation_records WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
