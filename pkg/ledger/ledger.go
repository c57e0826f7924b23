// Package ledger records every text upload run in Postgres so operators can
// see what a run created and why it failed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OpenPecha/webuddhist/backend/internal/util"
	"github.com/OpenPecha/webuddhist/backend/pkg/leaselock"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("upload run not found")

const maxErrorRunes = 4000

// Pool is the subset of *pgxpool.Pool the ledger needs.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Run struct {
	ID             string            `json:"id"`
	TextID         string            `json:"text_id"`
	DestinationURL string            `json:"destination_url"`
	Status         Status            `json:"status"`
	NewText        map[string]string `json:"new_text,omitempty"`
	AllText        map[string]string `json:"all_text,omitempty"`
	Error          *string           `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

type Ledger struct {
	pool Pool
}

func New(pool Pool) *Ledger {
	return &Ledger{pool: pool}
}

type CreateParams struct {
	ID             string
	TextID         string
	DestinationURL string
}

func (l *Ledger) Create(ctx context.Context, params CreateParams) error {
	_, err := l.pool.Exec(ctx, createRunSQL, params.ID, params.TextID, params.DestinationURL)
	if err != nil {
		return fmt.Errorf("failed to create upload run %s: %w", params.ID, err)
	}
	return nil
}

// MarkRunning moves a run to running. Redelivered runs may be in any state.
func (l *Ledger) MarkRunning(ctx context.Context, id string) error {
	return l.update(ctx, markRunningSQL, id)
}

func (l *Ledger) Complete(ctx context.Context, id string, newText, allText map[string]string) error {
	newJSON, err := json.Marshal(nonNil(newText))
	if err != nil {
		return err
	}
	allJSON, err := json.Marshal(nonNil(allText))
	if err != nil {
		return err
	}
	return l.update(ctx, completeRunSQL, id, newJSON, allJSON)
}

func (l *Ledger) Fail(ctx context.Context, id string, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = util.SanitizePostgresText(runErr.Error(), maxErrorRunes)
	}
	return l.update(ctx, failRunSQL, id, msg)
}

func (l *Ledger) update(ctx context.Context, sql, id string, args ...any) error {
	tag, err := l.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update upload run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(l.pool.QueryRow(ctx, getRunSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload run %s: %w", id, err)
	}
	return run, nil
}

// ListByText returns the most recent runs for textID, newest first.
func (l *Ledger) ListByText(ctx context.Context, textID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx, listRunsByTextSQL, textID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload runs for %s: %w", textID, err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// FailStale marks runs stuck in running for longer than olderThan as failed
// and returns how many were touched. A run whose text still holds a live
// lease is in progress and is left alone.
func (l *Ledger) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx, failStaleRunsSQL, olderThan.Milliseconds(), leaselock.TextKey(""))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale upload runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run     Run
		status  string
		newText []byte
		allText []byte
	)
	err := row.Scan(
		&run.ID,
		&run.TextID,
		&run.DestinationURL,
		&status,
		&newText,
		&allText,
		&run.Error,
		&run.CreatedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if len(newText) > 0 {
		if err := json.Unmarshal(newText, &run.NewText); err != nil {
			return nil, fmt.Errorf("invalid new_text for run %s: %w", run.ID, err)
		}
	}
	if len(allText) > 0 {
		if err := json.Unmarshal(allText, &run.AllText); err != nil {
			return nil, fmt.Errorf("invalid all_text for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

const createRunSQL = `
INSERT INTO text_upload_runs (id, text_id, destination_url, status)
VALUES ($1, $2, $3, 'pending');
`

const markRunningSQL = `
UPDATE text_upload_runs
SET status = 'running', error = NULL, finished_at = NULL, updated_at = now()
WHERE id = $1;
`

const completeRunSQL = `
UPDATE text_upload_runs
SET status = 'completed', new_text = $2, all_text = $3, error = NULL, finished_at = now(), updated_at = now()
WHERE id = $1;
`

const failRunSQL = `
UPDATE text_upload_runs
SET status = 'failed', error = $2, finished_at = now(), updated_at = now()
WHERE id = $1;
`

const getRunSQL = `
SELECT id, text_id, destination_url, status, new_text, all_text, error, created_at, finished_at
FROM text_upload_runs
WHERE id = $1;
`

const listRunsByTextSQL = `
SELECT id, text_id, destination_url, status, new_text, all_text, error, created_at, finished_at
FROM text_upload_runs
WHERE text_id = $1
ORDER BY created_at DESC
LIMIT $2;
`

const failStaleRunsSQL = `
UPDATE text_upload_runs
SET status = 'failed', error = 'run abandoned', finished_at = now(), updated_at = now()
WHERE status = 'running'
  AND updated_at < now() - ($1::bigint * interval '1 millisecond')
  AND NOT EXISTS (
    SELECT 1 FROM text_upload_locks l
    WHERE l.lock_key = $2 || text_upload_runs.text_id
      AND l.expires_at > now()
  );
`
