package domain

import "time"

// ActivityAction names a decision recorded in the activity log.
type ActivityAction string

const (
	ActionCreated       ActivityAction = "created"
	ActionCategorized   ActivityAction = "auto_categorized"
	ActionRecategorized ActivityAction = "recategorized"
	ActionAssigned      ActivityAction = "assigned"
	ActionUnassigned    ActivityAction = "unassigned"
	ActionAtRisk        ActivityAction = "sla_at_risk"
	ActionEscalated     ActivityAction = "escalated"
	ActionReassigned    ActivityAction = "reassigned"
)

// ActorSystem marks records written by the engine itself.
const ActorSystem = "system"

// ActivityRecord is an immutable audit entry.
type ActivityRecord struct {
	ID        string
	QueryID   string
	Actor     string
	Action    ActivityAction
	Detail    map[string]any
	CreatedAt time.Time
}
