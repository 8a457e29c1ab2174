package events

import (
	"time"

	"github.com/supportdesk/triage-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventQueryCreated       EventType = "query_created"
	EventQueryClassified    EventType = "query_classified"
	EventQueryAssigned      EventType = "query_assigned"
	EventQueryUnassigned    EventType = "query_unassigned"
	EventQueryRecategorized EventType = "query_recategorized"
	EventQueryAtRisk        EventType = "query_sla_at_risk"
	EventQueryEscalated     EventType = "query_escalated"
	EventQueryReassigned    EventType = "query_reassigned"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	QueryID   string    `json:"query_id"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// QueryCreatedPayload payload.
type QueryCreatedPayload struct {
	Channel domain.QueryChannel `json:"channel"`
	Subject string              `json:"subject"`
}

// QueryClassifiedPayload payload.
type QueryClassifiedPayload struct {
	Category       domain.QueryCategory `json:"category"`
	Priority       domain.Priority      `json:"priority"`
	Tags           []string             `json:"tags"`
	Source         string               `json:"source"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
}

// QueryAssignedPayload payload.
type QueryAssignedPayload struct {
	AgentID       string          `json:"agent_id"`
	Team          domain.Team     `json:"team"`
	Priority      domain.Priority `json:"priority"`
	PreviousAgent *string         `json:"previous_agent_id,omitempty"`
}

// QueryUnassignedPayload payload.
type QueryUnassignedPayload struct {
	Team   domain.Team `json:"team"`
	Reason string      `json:"reason"`
}

// QueryRecategorizedPayload payload.
type QueryRecategorizedPayload struct {
	OldCategory *domain.QueryCategory `json:"old_category,omitempty"`
	NewCategory domain.QueryCategory  `json:"new_category"`
	OldPriority *domain.Priority      `json:"old_priority,omitempty"`
	NewPriority domain.Priority       `json:"new_priority"`
}

// QuerySLAPayload is carried by at-risk and escalated events.
type QuerySLAPayload struct {
	OldPriority domain.Priority `json:"old_priority"`
	NewPriority domain.Priority `json:"new_priority"`
	Elapsed     string          `json:"elapsed"`
	Deadline    string          `json:"deadline,omitempty"`
	Capped      bool            `json:"capped,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}
