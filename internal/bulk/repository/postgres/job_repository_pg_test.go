package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waservices/gateway/internal/bulk/domain"
)

func setupJobRepoTest(t *testing.T) (*PgJobRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewPgJobRepository(mockPool, logger)
	return repo, mockPool
}

func sampleJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("dev-1", domain.JobTypeSendText,
		[]domain.JobItem{
			{Target: "111", Message: "hi"},
			{Target: "222", Message: "hi"},
		},
		domain.JobOptions{Delay: 5 * time.Second, AutoStart: true})
	require.NoError(t, err)
	return job
}

func TestPgJobRepository_Create(t *testing.T) {
	repo, mockPool := setupJobRepoTest(t)
	defer mockPool.Close()

	job := sampleJob(t)

	t.Run("Success", func(t *testing.T) {
		mockPool.ExpectExec(`INSERT INTO bulk_jobs`).
			WithArgs(job.ID, job.DeviceID, job.Type, job.Status, pgxmock.AnyArg(),
				0, 2, 0, 0, pgxmock.AnyArg(), 5, true, job.CreatedAt, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(context.Background(), job)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		dbErr := errors.New("connection lost")
		mockPool.ExpectExec(`INSERT INTO bulk_jobs`).
			WithArgs(job.ID, job.DeviceID, job.Type, job.Status, pgxmock.AnyArg(),
				0, 2, 0, 0, pgxmock.AnyArg(), 5, true, job.CreatedAt, pgxmock.AnyArg()).
			WillReturnError(dbErr)

		err := repo.Create(context.Background(), job)
		require.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgJobRepository_SaveProgress(t *testing.T) {
	repo, mockPool := setupJobRepoTest(t)
	defer mockPool.Close()

	job := sampleJob(t)
	require.NoError(t, job.MarkProcessing())
	job.RecordSuccess("msg-1")

	t.Run("Updated", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE bulk_jobs`).
			WithArgs(job.Status, 1, 1, 0, pgxmock.AnyArg(), pgxmock.AnyArg(),
				job.StartedAt, job.CompletedAt, pgxmock.AnyArg(), job.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.SaveProgress(context.Background(), job)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("RowGone", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE bulk_jobs`).
			WithArgs(job.Status, 1, 1, 0, pgxmock.AnyArg(), pgxmock.AnyArg(),
				job.StartedAt, job.CompletedAt, pgxmock.AnyArg(), job.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SaveProgress(context.Background(), job)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgJobRepository_ListResumable(t *testing.T) {
	repo, mockPool := setupJobRepoTest(t)
	defer mockPool.Close()

	jobID := uuid.New()
	createdAt := time.Now().UTC().Add(-time.Minute)
	startedAt := createdAt.Add(time.Second)

	rows := mockPool.NewRows([]string{
		"id", "device_id", "job_type", "status", "items", "cursor", "total",
		"completed", "failed", "results", "delay_seconds", "auto_start",
		"error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		jobID, "dev-1", domain.JobTypeSendText, domain.StatusPaused,
		[]byte(`[{"target":"111","message":"hi"},{"target":"222","message":"hi"}]`),
		1, 2, 1, 0,
		[]byte(`[{"target":"111","outcome":"success","detail":"msg-1"}]`),
		5, true, nil, createdAt, startedAt, nil,
	)

	mockPool.ExpectQuery(`SELECT (.+) FROM bulk_jobs`).
		WithArgs(domain.StatusQueued, domain.StatusProcessing, domain.StatusPaused).
		WillReturnRows(rows)

	jobs, err := repo.ListResumable(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, domain.StatusPaused, job.Status)
	assert.Equal(t, 1, job.Cursor)
	assert.Equal(t, domain.Progress{Total: 2, Completed: 1, Failed: 0}, job.Progress)
	require.Len(t, job.Items, 2)
	require.Len(t, job.Results, 1)
	assert.Equal(t, domain.OutcomeSuccess, job.Results[0].Outcome)
	assert.Equal(t, 5*time.Second, job.Options.Delay)
	assert.True(t, job.Options.AutoStart)
	require.NotNil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.Error)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobRepository_DeleteTerminalBefore(t *testing.T) {
	repo, mockPool := setupJobRepoTest(t)
	defer mockPool.Close()

	cutoff := time.Now().UTC().Add(-72 * time.Hour)
	mockPool.ExpectExec(`DELETE FROM bulk_jobs`).
		WithArgs(domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	count, err := repo.DeleteTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
