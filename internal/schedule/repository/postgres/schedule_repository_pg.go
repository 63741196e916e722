package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/waservices/gateway/internal/schedule/domain"
)

// DB is the subset of pgxpool.Pool the repository uses, narrowed so tests
// can substitute a mock pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgScheduleRepository persists armed scheduled messages.
//
// Schema:
//
//	CREATE TABLE scheduled_messages (
//	    id         UUID PRIMARY KEY,
//	    device_id  TEXT NOT NULL,
//	    target     TEXT NOT NULL,
//	    message    TEXT NOT NULL,
//	    fire_at    TIMESTAMPTZ NOT NULL,
//	    timezone   TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PgScheduleRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgScheduleRepository(db DB, logger *slog.Logger) *PgScheduleRepository {
	return &PgScheduleRepository{db: db, logger: logger}
}

func (r *PgScheduleRepository) Create(ctx context.Context, msg *domain.ScheduledMessage) error {
	query := `
		INSERT INTO scheduled_messages (id, device_id, target, message, fire_at, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.DeviceID, msg.Target, msg.Message, msg.FireAt, msg.Timezone, msg.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating schedule row", "error", err, "schedule_id", msg.ID)
		return err
	}
	return nil
}

func (r *PgScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM scheduled_messages WHERE id = $1`, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting schedule row", "error", err, "schedule_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgScheduleRepository) ListPending(ctx context.Context) ([]*domain.ScheduledMessage, error) {
	query := `
		SELECT id, device_id, target, message, fire_at, timezone, created_at
		FROM scheduled_messages
		ORDER BY fire_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error listing pending schedules", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScheduledMessage
	for rows.Next() {
		msg := &domain.ScheduledMessage{}
		var fireAt, createdAt time.Time
		if err := rows.Scan(&msg.ID, &msg.DeviceID, &msg.Target, &msg.Message, &fireAt, &msg.Timezone, &createdAt); err != nil {
			return nil, err
		}
		msg.FireAt = fireAt
		msg.CreatedAt = createdAt
		out = append(out, msg)
	}
	return out, rows.Err()
}
