package service

import (
	"context"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/repository"
)

// LoadBalancer selects the least-loaded eligible agent of a team.
type LoadBalancer struct {
	agents   repository.AgentRepository
	capacity config.CapacityPolicy
}

// NewLoadBalancer creates the balancer.
func NewLoadBalancer(agents repository.AgentRepository, capacity config.CapacityPolicy) *LoadBalancer {
	return &LoadBalancer{agents: agents, capacity: capacity}
}

// Select returns the chosen agent or nil when nobody in team is eligible.
// When holder is set, that agent already carries the query being routed and
// its count is taken without it.
func (b *LoadBalancer) Select(ctx context.Context, team domain.Team, priority domain.Priority, holder *string) (*domain.AgentLoad, error) {
	loads, err := b.agents.ListLoadsByTeam(ctx, team)
	if err != nil {
		return nil, err
	}
	keep := ""
	if holder != nil {
		keep = *holder
		for i := range loads {
			if loads[i].Agent.ID == keep && loads[i].ActiveTickets > 0 {
				loads[i].ActiveTickets--
			}
		}
	}
	return pickAgent(loads, priority, b.capacity, keep), nil
}

// Ceiling exposes the resolved ceiling for reporting.
func (b *LoadBalancer) Ceiling(agent domain.Agent, priority domain.Priority) int {
	return b.capacity.Ceiling(agent, priority)
}

// PickAgent applies the selection rule to a snapshot: active agents whose
// active count is below their ceiling for priority are eligible, the lowest
// count wins and ties go to the smaller agent ID.
func PickAgent(loads []domain.AgentLoad, priority domain.Priority, capacity config.CapacityPolicy) *domain.AgentLoad {
	return pickAgent(loads, priority, capacity, "")
}

// pickAgent is PickAgent where an eligible holder wins every tie, so a query
// only moves when someone is strictly less loaded.
func pickAgent(loads []domain.AgentLoad, priority domain.Priority, capacity config.CapacityPolicy, holder string) *domain.AgentLoad {
	var best *domain.AgentLoad
	for i := range loads {
		candidate := &loads[i]
		if !candidate.Agent.Active {
			continue
		}
		if candidate.ActiveTickets >= capacity.Ceiling(candidate.Agent, priority) {
			continue
		}
		if best == nil || candidate.ActiveTickets < best.ActiveTickets {
			best = candidate
			continue
		}
		if candidate.ActiveTickets > best.ActiveTickets || best.Agent.ID == holder {
			continue
		}
		if candidate.Agent.ID == holder || candidate.Agent.ID < best.Agent.ID {
			best = candidate
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}
