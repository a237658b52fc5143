package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded settings lifecycle step.
type Entry struct {
	ID            int64
	OccurredAt    time.Time
	EventType     string
	WorkspaceID   string
	UserID        string
	Trigger       string
	ChangedFields []string
	Detail        string
	RequestID     string
	Snapshot      []byte
}

// Filter selects entries for List.
type Filter struct {
	EventTypes  []string
	WorkspaceID string
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// Store is the local audit journal, kept in SQLite next to the CLI so
// operators can answer "what changed and when" without server access.
type Store struct {
	db *sql.DB
}

// NewStore opens the journal at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings_audit (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at DATETIME NOT NULL,
            event_type TEXT NOT NULL,
            workspace_id TEXT,
            user_id TEXT,
            trigger_kind TEXT,
            changed_fields TEXT,
            detail TEXT,
            request_id TEXT,
            snapshot TEXT
        )`,

		`CREATE INDEX IF NOT EXISTS idx_settings_audit_occurred ON settings_audit(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_audit_type ON settings_audit(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_audit_scope ON settings_audit(workspace_id, user_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Append writes one entry. A zero OccurredAt is stamped with the current
// time.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO settings_audit
            (occurred_at, event_type, workspace_id, user_id, trigger_kind, changed_fields, detail, request_id, snapshot)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt, e.EventType, e.WorkspaceID, e.UserID, e.Trigger,
		strings.Join(e.ChangedFields, ","), e.Detail, e.RequestID, string(e.Snapshot),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// List returns entries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT id, occurred_at, event_type, workspace_id, user_id, trigger_kind, changed_fields, detail, request_id, snapshot
              FROM settings_audit`

	var conds []string
	var args []interface{}

	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filter.EventTypes)), ",")
		conds = append(conds, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, t := range filter.EventTypes {
			args = append(args, t)
		}
	}
	if filter.WorkspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.Since != nil {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conds = append(conds, "occurred_at < ?")
		args = append(args, *filter.Until)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fields, snapshot string
		if err := rows.Scan(
			&e.ID, &e.OccurredAt, &e.EventType, &e.WorkspaceID, &e.UserID,
			&e.Trigger, &fields, &e.Detail, &e.RequestID, &snapshot,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if fields != "" {
			e.ChangedFields = strings.Split(fields, ",")
		}
		if snapshot != "" {
			e.Snapshot = []byte(snapshot)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes entries older than the retention window, returning how many
// rows went away.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM settings_audit WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the journal connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
