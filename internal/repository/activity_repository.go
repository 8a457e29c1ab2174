package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/triage-service/internal/domain"
)

// ActivityRepository stores the append-only decision log.
type ActivityRepository interface {
	Append(ctx context.Context, record *domain.ActivityRecord) error
	ListByQuery(ctx context.Context, queryID string) ([]domain.ActivityRecord, error)
}

type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository builds repository.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertActivity(ctx context.Context, q rowQuerier, record *domain.ActivityRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Actor == "" {
		record.Actor = domain.ActorSystem
	}
	if record.Detail == nil {
		record.Detail = map[string]any{}
	}
	const stmt = `
        INSERT INTO query_activities (id, query_id, actor, action, detail)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`
	return q.QueryRow(ctx, stmt,
		record.ID,
		record.QueryID,
		record.Actor,
		record.Action,
		record.Detail,
	).Scan(&record.CreatedAt)
}

func (r *activityRepository) Append(ctx context.Context, record *domain.ActivityRecord) error {
	return insertActivity(ctx, r.pool, record)
}

func (r *activityRepository) ListByQuery(ctx context.Context, queryID string) ([]domain.ActivityRecord, error) {
	const stmt = `
        SELECT id, query_id, actor, action, detail, created_at
        FROM query_activities WHERE query_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, stmt, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityRecord
	for rows.Next() {
		var record domain.ActivityRecord
		if err := rows.Scan(
			&record.ID,
			&record.QueryID,
			&record.Actor,
			&record.Action,
			&record.Detail,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
