package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/waservices/gateway/internal/bulk/domain"
)

// DB is the subset of pgxpool.Pool the repository uses, narrowed so tests
// can substitute a mock pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgJobRepository persists bulk job records.
//
// Schema:
//
//	CREATE TABLE bulk_jobs (
//	    id            UUID PRIMARY KEY,
//	    device_id     TEXT NOT NULL,
//	    job_type      TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    items         JSONB NOT NULL,
//	    cursor        INT NOT NULL DEFAULT 0,
//	    total         INT NOT NULL,
//	    completed     INT NOT NULL DEFAULT 0,
//	    failed        INT NOT NULL DEFAULT 0,
//	    results       JSONB NOT NULL DEFAULT '[]',
//	    delay_seconds INT NOT NULL DEFAULT 0,
//	    auto_start    BOOLEAN NOT NULL DEFAULT FALSE,
//	    error_message TEXT,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    started_at    TIMESTAMPTZ,
//	    completed_at  TIMESTAMPTZ,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
type PgJobRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgJobRepository(db DB, logger *slog.Logger) *PgJobRepository {
	return &PgJobRepository{db: db, logger: logger}
}

func (r *PgJobRepository) Create(ctx context.Context, job *domain.Job) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal job items: %w", err)
	}
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	query := `
		INSERT INTO bulk_jobs (id, device_id, job_type, status, items, cursor, total, completed, failed, results, delay_seconds, auto_start, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.Exec(ctx, query,
		job.ID, job.DeviceID, job.Type, job.Status, itemsJSON, job.Cursor,
		job.Progress.Total, job.Progress.Completed, job.Progress.Failed, resultsJSON,
		int(job.Options.Delay/time.Second), job.Options.AutoStart,
		job.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating bulk job row", "error", err, "job_id", job.ID)
		return err
	}
	return nil
}

func (r *PgJobRepository) SaveProgress(ctx context.Context, job *domain.Job) error {
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	var errMsg sql.NullString
	if job.Error != "" {
		errMsg = sql.NullString{String: job.Error, Valid: true}
	}

	query := `
		UPDATE bulk_jobs
		SET status = $1, cursor = $2, completed = $3, failed = $4, results = $5,
		    error_message = $6, started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $10
	`
	tag, err := r.db.Exec(ctx, query,
		job.Status, job.Cursor, job.Progress.Completed, job.Progress.Failed, resultsJSON,
		errMsg, job.StartedAt, job.CompletedAt, time.Now().UTC(), job.ID,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error saving bulk job progress", "error", err, "job_id", job.ID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgJobRepository) ListResumable(ctx context.Context) ([]*domain.Job, error) {
	query := `
		SELECT id, device_id, job_type, status, items, cursor, total, completed, failed, results, delay_seconds, auto_start, error_message, created_at, started_at, completed_at
		FROM bulk_jobs
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, domain.StatusQueued, domain.StatusProcessing, domain.StatusPaused)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing resumable bulk jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job := &domain.Job{}
		var itemsJSON, resultsJSON []byte
		var delaySeconds int
		var errMsg sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(
			&job.ID, &job.DeviceID, &job.Type, &job.Status, &itemsJSON, &job.Cursor,
			&job.Progress.Total, &job.Progress.Completed, &job.Progress.Failed, &resultsJSON,
			&delaySeconds, &job.Options.AutoStart, &errMsg, &job.CreatedAt, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items for job %s: %w", job.ID, err)
		}
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results for job %s: %w", job.ID, err)
		}
		job.Options.Delay = time.Duration(delaySeconds) * time.Second
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		if startedAt.Valid {
			t := startedAt.Time
			job.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PgJobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM bulk_jobs
		WHERE status IN ($1, $2, $3) AND completed_at < $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error pruning terminal bulk jobs", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
