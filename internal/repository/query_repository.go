package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/triage-service/internal/domain"
)

// QueryRepository encapsulates query persistence.
type QueryRepository interface {
	Create(ctx context.Context, query *domain.Query) error
	GetByID(ctx context.Context, id string) (*domain.Query, error)
	// ListUnassigned returns status=new queries without an assignee, oldest
	// received first. A non-positive limit returns all of them.
	ListUnassigned(ctx context.Context, limit int) ([]domain.Query, error)
	// ListOpen returns every query in an open status, oldest received first.
	ListOpen(ctx context.Context) ([]domain.Query, error)
	// List returns one page of queries matching filter, newest first, and the
	// number of matches across all pages.
	List(ctx context.Context, filter QueryFilter) ([]domain.Query, int, error)
	// Commit writes the routing fields of query and appends activities in one
	// transaction, provided the stored version still equals expectedVersion and
	// the stored status is not terminal. On success query.Version is advanced.
	Commit(ctx context.Context, query *domain.Query, expectedVersion int64, activities ...*domain.ActivityRecord) error
	// UpdateStatus records a lifecycle change made outside the engine. Like
	// Commit it fails with ErrVersionConflict when the stored version moved
	// past expectedVersion or the query is already terminal.
	UpdateStatus(ctx context.Context, id string, status domain.QueryStatus, expectedVersion int64, at time.Time) (*domain.Query, error)
	// RecordFirstResponse stamps first_response_at once.
	RecordFirstResponse(ctx context.Context, id string, at time.Time) (*domain.Query, error)
}

// QueryFilter narrows List. Zero fields match everything; Page is 1-based.
type QueryFilter struct {
	Status     domain.QueryStatus
	Priority   domain.Priority
	Channel    domain.QueryChannel
	AssigneeID string
	Page       int
	PageSize   int
}

// Offset is the number of matches skipped before the page starts.
func (f QueryFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

type queryRepository struct {
	pool *pgxpool.Pool
}

// NewQueryRepository instantiates the repository.
func NewQueryRepository(pool *pgxpool.Pool) QueryRepository {
	return &queryRepository{pool: pool}
}

const querySelect = `
        SELECT id, channel, sender_email, sender_name, sender_id, subject, content,
               category, priority, tags, status, assignee_id, received_at, assigned_at,
               first_response_at, resolved_at, sla_state, escalation_count, last_escalated_at, version
        FROM queries`

// Open listings share one ordering so sweeps visit ties in a stable order.
const (
	openOrder          = ` ORDER BY received_at ASC, id ASC`
	listUnassignedStmt = querySelect + ` WHERE status='new' AND assignee_id IS NULL` + openOrder
	listOpenStmt       = querySelect + ` WHERE status IN ('new','assigned','in_progress')` + openOrder
	updateStatusStmt   = `
        UPDATE queries SET status=$1,
            resolved_at=CASE WHEN $1='resolved' THEN $2 ELSE resolved_at END,
            version=version+1
        WHERE id=$3 AND version=$4 AND status NOT IN ('resolved','closed')`
)

func (r *queryRepository) Create(ctx context.Context, query *domain.Query) error {
	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	if query.Status == "" {
		query.Status = domain.QueryStatusNew
	}
	if query.SLAState == "" {
		query.SLAState = domain.SLAStateOnTrack
	}
	if query.Tags == nil {
		query.Tags = []string{}
	}
	const stmt = `
        INSERT INTO queries (id, channel, sender_email, sender_name, sender_id, subject, content,
                             category, priority, tags, status, received_at, sla_state)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE($12, NOW()),$13)
        RETURNING received_at, version`
	var receivedAt *time.Time
	if !query.ReceivedAt.IsZero() {
		receivedAt = &query.ReceivedAt
	}
	return r.pool.QueryRow(ctx, stmt,
		query.ID,
		query.Channel,
		query.SenderEmail,
		query.SenderName,
		query.SenderID,
		query.Subject,
		query.Content,
		query.Category,
		query.Priority,
		query.Tags,
		query.Status,
		receivedAt,
		query.SLAState,
	).Scan(&query.ReceivedAt, &query.Version)
}

func (r *queryRepository) GetByID(ctx context.Context, id string) (*domain.Query, error) {
	query, err := scanQuery(r.pool.QueryRow(ctx, querySelect+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return query, err
}

func (r *queryRepository) ListUnassigned(ctx context.Context, limit int) ([]domain.Query, error) {
	stmt := listUnassignedStmt
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.pool.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueries(rows)
}

func (r *queryRepository) ListOpen(ctx context.Context) ([]domain.Query, error) {
	rows, err := r.pool.Query(ctx, listOpenStmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueries(rows)
}

func (r *queryRepository) List(ctx context.Context, filter QueryFilter) ([]domain.Query, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.Priority != "" {
		add("priority", filter.Priority)
	}
	if filter.Channel != "" {
		add("channel", filter.Channel)
	}
	if filter.AssigneeID != "" {
		add("assignee_id", filter.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	stmt := querySelect + where + ` ORDER BY received_at DESC, id ASC`
	if filter.PageSize > 0 {
		stmt += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, filter.Offset())
	}
	rows, err := r.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	queries, err := scanQueries(rows)
	if err != nil {
		return nil, 0, err
	}
	return queries, total, nil
}

func (r *queryRepository) Commit(ctx context.Context, query *domain.Query, expectedVersion int64, activities ...*domain.ActivityRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const stmt = `
        UPDATE queries SET category=$1, priority=$2, tags=$3, status=$4, assignee_id=$5, assigned_at=$6,
            sla_state=$7, escalation_count=$8, last_escalated_at=$9, version=version+1
        WHERE id=$10 AND version=$11 AND status NOT IN ('resolved','closed')`
	if query.Tags == nil {
		query.Tags = []string{}
	}
	cmd, err := tx.Exec(ctx, stmt,
		query.Category,
		query.Priority,
		query.Tags,
		query.Status,
		query.AssigneeID,
		query.AssignedAt,
		query.SLAState,
		query.EscalationCount,
		query.LastEscalatedAt,
		query.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM queries WHERE id=$1)`, query.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	for _, activity := range activities {
		if activity == nil {
			continue
		}
		if err := insertActivity(ctx, tx, activity); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	query.Version = expectedVersion + 1
	return nil
}

func (r *queryRepository) UpdateStatus(ctx context.Context, id string, status domain.QueryStatus, expectedVersion int64, at time.Time) (*domain.Query, error) {
	cmd, err := r.pool.Exec(ctx, updateStatusStmt, status, at, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM queries WHERE id=$1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	return r.GetByID(ctx, id)
}

func (r *queryRepository) RecordFirstResponse(ctx context.Context, id string, at time.Time) (*domain.Query, error) {
	const stmt = `
        UPDATE queries SET first_response_at=COALESCE(first_response_at, $1), version=version+1
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, stmt, at, id)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func scanQuery(row pgx.Row) (*domain.Query, error) {
	var q domain.Query
	if err := row.Scan(
		&q.ID,
		&q.Channel,
		&q.SenderEmail,
		&q.SenderName,
		&q.SenderID,
		&q.Subject,
		&q.Content,
		&q.Category,
		&q.Priority,
		&q.Tags,
		&q.Status,
		&q.AssigneeID,
		&q.ReceivedAt,
		&q.AssignedAt,
		&q.FirstResponseAt,
		&q.ResolvedAt,
		&q.SLAState,
		&q.EscalationCount,
		&q.LastEscalatedAt,
		&q.Version,
	); err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQueries(rows pgx.Rows) ([]domain.Query, error) {
	var result []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}
	return result, rows.Err()
}
