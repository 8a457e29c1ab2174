package domain

import "time"

// QueryChannel identifies where an inbound message arrived from.
type QueryChannel string

const (
	ChannelEmail     QueryChannel = "email"
	ChannelChat      QueryChannel = "chat"
	ChannelTwitter   QueryChannel = "twitter"
	ChannelInstagram QueryChannel = "instagram"
	ChannelFacebook  QueryChannel = "facebook"
)

// Valid reports whether c is a known channel.
func (c QueryChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelChat, ChannelTwitter, ChannelInstagram, ChannelFacebook:
		return true
	}
	return false
}

// QueryStatus enumerates lifecycle states for queries.
type QueryStatus string

const (
	QueryStatusNew        QueryStatus = "new"
	QueryStatusAssigned   QueryStatus = "assigned"
	QueryStatusInProgress QueryStatus = "in_progress"
	QueryStatusResolved   QueryStatus = "resolved"
	QueryStatusClosed     QueryStatus = "closed"
)

// Valid reports whether s is a known status.
func (s QueryStatus) Valid() bool {
	switch s {
	case QueryStatusNew, QueryStatusAssigned, QueryStatusInProgress, QueryStatusResolved, QueryStatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether the status freezes the query from routing and escalation.
func (s QueryStatus) IsTerminal() bool {
	return s == QueryStatusResolved || s == QueryStatusClosed
}

// Counts reports whether a query in this status adds to its assignee's active load.
func (s QueryStatus) Counts() bool {
	return s == QueryStatusAssigned || s == QueryStatusInProgress
}

// OpenStatuses lists the statuses the escalation monitor tracks.
var OpenStatuses = []QueryStatus{QueryStatusNew, QueryStatusAssigned, QueryStatusInProgress}

// QueryCategory is the classifier's message type.
type QueryCategory string

const (
	CategoryQuestion  QueryCategory = "question"
	CategoryRequest   QueryCategory = "request"
	CategoryComplaint QueryCategory = "complaint"
	CategoryFeedback  QueryCategory = "feedback"
	CategoryBugReport QueryCategory = "bug_report"
	CategoryGeneral   QueryCategory = "general"
)

// Categories lists every category.
var Categories = []QueryCategory{
	CategoryQuestion,
	CategoryRequest,
	CategoryComplaint,
	CategoryFeedback,
	CategoryBugReport,
	CategoryGeneral,
}

// Valid reports whether c is a known category.
func (c QueryCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SLAState is the escalation monitor's view of a query.
type SLAState string

const (
	SLAStateOnTrack   SLAState = "on_track"
	SLAStateAtRisk    SLAState = "at_risk"
	SLAStateEscalated SLAState = "escalated"
)

// Query is one inbound customer message tracked through its lifecycle.
type Query struct {
	ID              string
	Channel         QueryChannel
	SenderEmail     string
	SenderName      string
	SenderID        string
	Subject         string
	Content         string
	Category        *QueryCategory
	Priority        *Priority
	Tags            []string
	Status          QueryStatus
	AssigneeID      *string
	ReceivedAt      time.Time
	AssignedAt      *time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	SLAState        SLAState
	EscalationCount int
	LastEscalatedAt *time.Time
	Version         int64
}

// Classified reports whether the classifier has already run for q.
func (q *Query) Classified() bool {
	return q.Category != nil && q.Priority != nil
}

// EffectivePriority returns the query priority, or medium while unclassified.
func (q *Query) EffectivePriority() Priority {
	if q.Priority == nil {
		return PriorityMedium
	}
	return *q.Priority
}

// SLAReference is the instant the current SLA window started.
func (q *Query) SLAReference() time.Time {
	if q.LastEscalatedAt != nil {
		return *q.LastEscalatedAt
	}
	return q.ReceivedAt
}

// IdleReference is the last time someone took the query on: the latest of
// receipt, assignment and escalation.
func (q *Query) IdleReference() time.Time {
	ref := q.ReceivedAt
	if q.AssignedAt != nil && q.AssignedAt.After(ref) {
		ref = *q.AssignedAt
	}
	if q.LastEscalatedAt != nil && q.LastEscalatedAt.After(ref) {
		ref = *q.LastEscalatedAt
	}
	return ref
}

// Clone returns a deep copy so callers can stage changes without aliasing.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	out := *q
	if q.Category != nil {
		c := *q.Category
		out.Category = &c
	}
	if q.Priority != nil {
		p := *q.Priority
		out.Priority = &p
	}
	if q.AssigneeID != nil {
		a := *q.AssigneeID
		out.AssigneeID = &a
	}
	out.Tags = append([]string(nil), q.Tags...)
	out.AssignedAt = cloneTime(q.AssignedAt)
	out.FirstResponseAt = cloneTime(q.FirstResponseAt)
	out.ResolvedAt = cloneTime(q.ResolvedAt)
	out.LastEscalatedAt = cloneTime(q.LastEscalatedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
