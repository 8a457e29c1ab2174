package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/repository"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// AgentService manages the agent roster the balancer selects from.
type AgentService struct {
	agents repository.AgentRepository
	logger *zap.Logger
}

// AgentCreateInput describes a new agent. Capacity keys are priorities.
type AgentCreateInput struct {
	ID       string
	Name     string
	Email    string
	Team     string
	Active   *bool
	Capacity map[string]int
}

// NewAgentService constructs the service.
func NewAgentService(agents repository.AgentRepository, logger *zap.Logger) *AgentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentService{agents: agents, logger: logger}
}

// Register validates and stores an agent. Inactive agents are kept on the
// roster but never selected.
func (s *AgentService) Register(ctx context.Context, input AgentCreateInput) (*domain.Agent, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name required", nil)
	}
	team := domain.Team(strings.ToLower(strings.TrimSpace(input.Team)))
	if !team.Valid() {
		return nil, apperrors.NewValidationError("unknown team", map[string]any{"team": input.Team, "allowed": domain.Teams})
	}
	capacity := make(map[domain.Priority]int, len(input.Capacity))
	for key, value := range input.Capacity {
		priority, ok := domain.ParsePriority(key)
		if !ok {
			return nil, apperrors.NewValidationError("unknown capacity priority", map[string]any{"priority": key})
		}
		if value <= 0 {
			return nil, apperrors.NewValidationError("capacity ceilings must be positive", map[string]any{"priority": key})
		}
		capacity[priority] = value
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}

	if input.ID != "" {
		if _, err := s.agents.GetByID(ctx, input.ID); err == nil {
			return nil, apperrors.NewConflict("agent already exists", map[string]any{"agent_id": input.ID})
		}
	}
	agent := &domain.Agent{
		ID:       strings.TrimSpace(input.ID),
		Name:     name,
		Email:    strings.TrimSpace(input.Email),
		Team:     team,
		Active:   active,
		Capacity: capacity,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("team", string(team)),
		zap.Bool("active", active))
	return agent, nil
}
