package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
	_ "modernc.org/sqlite"
)

const workflowSchema = `
CREATE TABLE IF NOT EXISTS workflows (
    name TEXT PRIMARY KEY,
    tools TEXT NOT NULL,          -- JSON array of tool ids
    updated_at INTEGER NOT NULL   -- UnixNano
);
`

// WorkflowStore is the saved workflow library, kept in sqlite.
type WorkflowStore struct {
	db *sql.DB
}

// SavedWorkflow is a library entry.
type SavedWorkflow struct {
	workflow.Workflow
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenWorkflows opens or creates the library at path. ":memory:" is accepted.
func OpenWorkflows(path string) (*WorkflowStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(workflowSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Debug("Opened workflow library", "path", path)
	return &WorkflowStore{db: db}, nil
}

// Save inserts or replaces a workflow by name.
func (w *WorkflowStore) Save(ctx context.Context, wf workflow.Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return fmt.Errorf("%w: workflow name is required", tools.ErrValidation)
	}
	if err := wf.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(wf.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	_, err = w.db.ExecContext(ctx,
		`INSERT INTO workflows (name, tools, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET tools = excluded.tools, updated_at = excluded.updated_at`,
		wf.Name, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.Name, err)
	}
	return nil
}

// Get returns the workflow with the given name or ErrNotFound.
func (w *WorkflowStore) Get(ctx context.Context, name string) (SavedWorkflow, error) {
	row := w.db.QueryRowContext(ctx, `SELECT name, tools, updated_at FROM workflows WHERE name = ?`, name)
	saved, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedWorkflow{}, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	return saved, err
}

// List returns all saved workflows ordered by name.
func (w *WorkflowStore) List(ctx context.Context) ([]SavedWorkflow, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name, tools, updated_at FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var result []SavedWorkflow
	for rows.Next() {
		saved, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, saved)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return result, nil
}

// Delete removes a workflow by name.
func (w *WorkflowStore) Delete(ctx context.Context, name string) error {
	res, err := w.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	return nil
}

func (w *WorkflowStore) Close() error {
	return w.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (SavedWorkflow, error) {
	var (
		saved   SavedWorkflow
		steps   string
		updated int64
	)
	if err := row.Scan(&saved.Name, &steps, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saved, err
		}
		return saved, fmt.Errorf("failed to read workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &saved.Tools); err != nil {
		return saved, fmt.Errorf("failed to decode tools of %s: %w", saved.Name, err)
	}
	saved.UpdatedAt = time.Unix(0, updated)
	return saved, nil
}
