package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processing_records (
	message_id TEXT PRIMARY KEY,
	thread_id TEXT,
	sender TEXT,
	subject TEXT,
	category TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence REAL,
	cycle_id TEXT,
	processed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pr_processed_at ON processing_records(processed_at);
CREATE INDEX IF NOT EXISTS idx_pr_action ON processing_records(action);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processing_records (
	message_id TEXT PRIMARY KEY,
	thread_id TEXT,
	sender TEXT,
	subject TEXT,
	category TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	cycle_id TEXT,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pr_processed_at ON processing_records(processed_at);
CREATE INDEX IF NOT EXISTS idx_pr_action ON processing_records(action);
`

// SQLStore is a Store backed by sqlite or postgres
type SQLStore struct {
	db       *sql.DB
	numbered bool // postgres uses $n placeholders
}

// NewSQLiteStore opens (creating if needed) the sqlite database at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and writes serial
	db.SetMaxOpenConns(1)

	store := &SQLStore{db: db}
	if err := store.migrate(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore connects to the postgres database at dsn
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &SQLStore{db: db, numbered: true}
	if err := store.migrate(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate(ctx context.Context, schema string) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2... for postgres
func (s *SQLStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Seen(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM processing_records WHERE message_id = ?`), messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query record: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Append(ctx context.Context, r Record) error {
	query := `
	INSERT INTO processing_records (message_id, thread_id, sender, subject, category, action, confidence, cycle_id, processed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (message_id) DO NOTHING`

	processedAt := r.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		r.MessageID,
		r.ThreadID,
		r.Sender,
		r.Subject,
		r.Category,
		string(r.Action),
		r.Confidence,
		r.CycleID,
		processedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var action string
	var threadID, sender, subject, cycleID sql.NullString
	var confidence sql.NullFloat64

	err := scanner.Scan(&r.MessageID, &threadID, &sender, &subject, &r.Category,
		&action, &confidence, &cycleID, &r.ProcessedAt)
	if err != nil {
		return nil, err
	}

	r.ThreadID = threadID.String
	r.Sender = sender.String
	r.Subject = subject.String
	r.CycleID = cycleID.String
	r.Confidence = confidence.Float64
	r.Action = Action(action)
	return &r, nil
}

func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT message_id, thread_id, sender, subject, category, action, confidence, cycle_id, processed_at
	FROM processing_records ORDER BY processed_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := newStats()
	rows, err := s.db.QueryContext(ctx, `SELECT action, category, COUNT(*) FROM processing_records GROUP BY action, category`)
	if err != nil {
		return st, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, category string
		var n int
		if err := rows.Scan(&action, &category, &n); err != nil {
			return st, fmt.Errorf("failed to scan stats: %w", err)
		}
		st.Total += n
		st.ByAction[Action(action)] += n
		st.ByCategory[category] += n
	}
	return st, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
