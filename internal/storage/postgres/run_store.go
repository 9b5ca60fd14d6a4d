package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// RunStore implements the store.RunRepository interface using Postgres.
type RunStore struct {
	db querier
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps a pool.
func NewRunStore(db querier) *RunStore {
	return &RunStore{db: db}
}

// UpsertRunStart inserts a running row, leaving an existing row untouched.
func (s *RunStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO crawl_runs (id, source, days, trigger, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.db.Exec(ctx, query, run.ID, run.Source, run.Days, run.Trigger, store.RunRunning, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress stores the latest progress. Reports never move a run backwards.
func (s *RunStore) UpdateRunProgress(ctx context.Context, id uuid.UUID, percent int, message string, _ time.Time) error {
	query := `
		UPDATE crawl_runs
		SET percent = $1, message = $2
		WHERE id = $3 AND status = $4 AND percent <= $1;
	`
	if _, err := s.db.Exec(ctx, query, percent, message, id, store.RunRunning); err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	resultCount int,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, result_count = $3, error_message = $4,
			percent = CASE WHEN $2 = 'success' THEN 100 ELSE percent END
		WHERE id = $5;
	`
	if _, err := s.db.Exec(ctx, query, finishedAt, status, resultCount, errMsg, id); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, source, days, trigger, status, percent, message, result_count, started_at, finished_at, error_message`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, optionally filtered by source and status.
func (s *RunStore) ListRuns(ctx context.Context, filter store.RunFilter, limit, offset int) ([]store.Run, error) {
	var source, status *string
	if filter.Source != "" {
		source = &filter.Source
	}
	if filter.Status != nil {
		st := string(*filter.Status)
		status = &st
	}
	query := `SELECT ` + runColumns + `
		FROM crawl_runs
		WHERE ($1::text IS NULL OR source = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4;`
	rows, err := s.db.Query(ctx, query, source, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run                        store.Run
		status                     string
		days, percent, resultCount int32
	)
	err := row.Scan(
		&run.ID,
		&run.Source,
		&days,
		&run.Trigger,
		&status,
		&percent,
		&run.Message,
		&resultCount,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	run.Days = int(days)
	run.Percent = int(percent)
	run.ResultCount = int(resultCount)
	return run, nil
}
