package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/triage-service/internal/domain"
)

// AgentRepository exposes agents together with their live load. Loads are
// derived from assigned and in_progress queries, never cached.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	// ListLoadsByTeam returns active agents of team ordered by ID.
	ListLoadsByTeam(ctx context.Context, team domain.Team) ([]domain.AgentLoad, error)
	// ListLoads returns every agent ordered by ID.
	ListLoads(ctx context.Context) ([]domain.AgentLoad, error)
	Load(ctx context.Context, agentID string) (*domain.AgentLoad, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

const agentLoadSelect = `
        SELECT a.id, a.name, a.email, a.team, a.active_flag, a.capacity, a.created_at,
               q.priority, COUNT(q.id)
        FROM agents a
        LEFT JOIN queries q ON q.assignee_id = a.id AND q.status IN ('assigned','in_progress')`

const agentLoadGroup = ` GROUP BY a.id, q.priority ORDER BY a.id`

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Capacity == nil {
		agent.Capacity = map[domain.Priority]int{}
	}
	const stmt = `
        INSERT INTO agents (id, name, email, team, active_flag, capacity)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, stmt,
		agent.ID,
		agent.Name,
		agent.Email,
		agent.Team,
		agent.Active,
		agent.Capacity,
	).Scan(&agent.CreatedAt)
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	const stmt = `
        SELECT id, name, email, team, active_flag, capacity, created_at
        FROM agents WHERE id=$1`
	var agent domain.Agent
	err := r.pool.QueryRow(ctx, stmt, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.Team,
		&agent.Active,
		&agent.Capacity,
		&agent.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *agentRepository) ListLoadsByTeam(ctx context.Context, team domain.Team) ([]domain.AgentLoad, error) {
	rows, err := r.pool.Query(ctx, agentLoadSelect+` WHERE a.team=$1 AND a.active_flag`+agentLoadGroup, team)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLoads(rows)
}

func (r *agentRepository) ListLoads(ctx context.Context) ([]domain.AgentLoad, error) {
	rows, err := r.pool.Query(ctx, agentLoadSelect+agentLoadGroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLoads(rows)
}

func (r *agentRepository) Load(ctx context.Context, agentID string) (*domain.AgentLoad, error) {
	rows, err := r.pool.Query(ctx, agentLoadSelect+` WHERE a.id=$1`+agentLoadGroup, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loads, err := scanLoads(rows)
	if err != nil {
		return nil, err
	}
	if len(loads) == 0 {
		return nil, ErrNotFound
	}
	return &loads[0], nil
}

// scanLoads folds one row per (agent, priority) into a load per agent. Rows
// arrive grouped by agent ID.
func scanLoads(rows pgx.Rows) ([]domain.AgentLoad, error) {
	var result []domain.AgentLoad
	for rows.Next() {
		var (
			agent    domain.Agent
			priority *domain.Priority
			count    int
		)
		if err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.Email,
			&agent.Team,
			&agent.Active,
			&agent.Capacity,
			&agent.CreatedAt,
			&priority,
			&count,
		); err != nil {
			return nil, err
		}
		if n := len(result); n == 0 || result[n-1].Agent.ID != agent.ID {
			result = append(result, domain.AgentLoad{Agent: agent, ByPriority: map[domain.Priority]int{}})
		}
		load := &result[len(result)-1]
		load.ActiveTickets += count
		if count > 0 {
			key := domain.PriorityMedium
			if priority != nil {
				key = *priority
			}
			load.ByPriority[key] += count
		}
	}
	return result, rows.Err()
}
