package dto

import (
	"time"

	"github.com/supportdesk/triage-service/internal/classifier"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/service"
)

// OutcomeResponse renders one routing decision.
type OutcomeResponse struct {
	QueryID  string                `json:"query_id"`
	Assigned bool                  `json:"assigned"`
	AgentID  *string               `json:"agent_id"`
	Team     domain.Team           `json:"team"`
	Category *domain.QueryCategory `json:"category"`
	Priority domain.Priority       `json:"priority"`
	Tags     []string              `json:"tags"`
	Source   classifier.Source     `json:"classification_source,omitempty"`
	Reason   string                `json:"reason,omitempty"`
}

// BatchResponse renders a batch pass.
type BatchResponse struct {
	Processed  int               `json:"processed"`
	Assigned   int               `json:"assigned"`
	Unassigned int               `json:"unassigned"`
	Skipped    int               `json:"skipped"`
	Outcomes   []OutcomeResponse `json:"outcomes"`
}

// AgentLoadResponse renders an agent's load next to its ceilings.
type AgentLoadResponse struct {
	AgentID       string                  `json:"agent_id"`
	Name          string                  `json:"name"`
	Team          domain.Team             `json:"team"`
	Active        bool                    `json:"active"`
	ActiveTickets int                     `json:"active_tickets"`
	ByPriority    map[domain.Priority]int `json:"by_priority"`
	Ceilings      map[domain.Priority]int `json:"ceilings"`
}

// StatsResponse renders the assignment report.
type StatsResponse struct {
	Unassigned   map[domain.Team]int `json:"unassigned_by_team"`
	Unclassified int                 `json:"unclassified"`
	Agents       []AgentLoadResponse `json:"agents"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// CreateAgentRequest payload.
type CreateAgentRequest struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Team     string         `json:"team"`
	Active   *bool          `json:"active"`
	Capacity map[string]int `json:"capacity"`
}

// AgentResponse renders a roster entry.
type AgentResponse struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Email     string                  `json:"email,omitempty"`
	Team      domain.Team             `json:"team"`
	Active    bool                    `json:"active"`
	Capacity  map[domain.Priority]int `json:"capacity"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewOutcomeResponse maps an outcome.
func NewOutcomeResponse(o service.Outcome) OutcomeResponse {
	tags := o.Tags
	if tags == nil {
		tags = []string{}
	}
	return OutcomeResponse{
		QueryID:  o.QueryID,
		Assigned: o.Assigned,
		AgentID:  o.AgentID,
		Team:     o.Team,
		Category: o.Category,
		Priority: o.Priority,
		Tags:     tags,
		Source:   o.Source,
		Reason:   o.Reason,
	}
}

// NewBatchResponse maps a batch result.
func NewBatchResponse(r *service.BatchResult) BatchResponse {
	out := BatchResponse{
		Processed:  r.Processed,
		Assigned:   r.Assigned,
		Unassigned: r.Unassigned,
		Skipped:    r.Skipped,
		Outcomes:   make([]OutcomeResponse, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		out.Outcomes = append(out.Outcomes, NewOutcomeResponse(o))
	}
	return out
}

// NewAgentLoadResponse maps a snapshot.
func NewAgentLoadResponse(s service.AgentSnapshot) AgentLoadResponse {
	byPriority := make(map[domain.Priority]int, len(domain.Priorities))
	for _, p := range domain.Priorities {
		byPriority[p] = s.ByPriority[p]
	}
	return AgentLoadResponse{
		AgentID:       s.AgentID,
		Name:          s.Name,
		Team:          s.Team,
		Active:        s.Active,
		ActiveTickets: s.ActiveTickets,
		ByPriority:    byPriority,
		Ceilings:      s.Ceilings,
	}
}

// NewStatsResponse maps the report.
func NewStatsResponse(s *service.Stats) StatsResponse {
	out := StatsResponse{
		Unassigned:   s.Unassigned,
		Unclassified: s.Unclassified,
		Agents:       make([]AgentLoadResponse, 0, len(s.Agents)),
		GeneratedAt:  s.GeneratedAt,
	}
	for _, a := range s.Agents {
		out.Agents = append(out.Agents, NewAgentLoadResponse(a))
	}
	return out
}

// NewAgentResponse maps an agent.
func NewAgentResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Team:      a.Team,
		Active:    a.Active,
		Capacity:  a.Capacity,
		CreatedAt: a.CreatedAt,
	}
}
