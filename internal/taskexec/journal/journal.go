// Package journal persists task lifecycle outcomes in a local SQLite
// database. The journal is the host-local audit trail: it answers "what did
// this agent do and why did it fail" without consulting the control plane,
// and feeds failure counts back into operator tooling.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Entry is one terminal task outcome.
type Entry struct {
	TaskID       string
	ResourceType string
	Operation    string
	Target       string
	State        string
	Attempts     int
	Reason       string
	FinishedAt   time.Time
}

// Journal wraps the SQLite connection.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS task_outcomes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	operation     TEXT NOT NULL,
	target        TEXT NOT NULL,
	state         TEXT NOT NULL,
	attempts      INTEGER NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	finished_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_outcomes_task_id ON task_outcomes(task_id);
CREATE INDEX IF NOT EXISTS idx_task_outcomes_target ON task_outcomes(resource_type, target);
`

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error { return j.db.Close() }

// Record appends a terminal outcome.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (task_id, resource_type, operation, target, state, attempts, reason, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.ResourceType, e.Operation, e.Target, e.State, e.Attempts, e.Reason,
		e.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.TaskID, err)
	}
	return nil
}

// FailCount returns how many times operations against the given target of
// the given resource type have ended in failure.
func (j *Journal) FailCount(ctx context.Context, resourceType, target string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_outcomes
		WHERE resource_type = ? AND target = ? AND state = 'failed'`,
		resourceType, target,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: fail count %s/%s: %w", resourceType, target, err)
	}
	return n, nil
}

// Recent returns the latest n outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT task_id, resource_type, operation, target, state, attempts, reason, finished_at
		FROM task_outcomes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var finished string
		if err := rows.Scan(&e.TaskID, &e.ResourceType, &e.Operation, &e.Target,
			&e.State, &e.Attempts, &e.Reason, &finished); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
