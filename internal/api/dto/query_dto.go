package dto

import (
	"time"

	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/service"
)

// CreateQueryRequest is an inbound message from any channel. Platform is read
// for social payloads.
type CreateQueryRequest struct {
	Channel     string `json:"channel"`
	Platform    string `json:"platform"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	SenderID    string `json:"sender_id"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// AssignRequest names the agent an operator hands a query to. QueryID is
// read only on routes without the ID in the path.
type AssignRequest struct {
	QueryID string `json:"query_id"`
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// QueryListResponse renders one page of a listing.
type QueryListResponse struct {
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Queries  []QueryResponse `json:"queries"`
}

// QueryResponse renders a query.
type QueryResponse struct {
	ID              string                `json:"id"`
	Channel         domain.QueryChannel   `json:"channel"`
	SenderEmail     string                `json:"sender_email,omitempty"`
	SenderName      string                `json:"sender_name,omitempty"`
	SenderID        string                `json:"sender_id,omitempty"`
	Subject         string                `json:"subject"`
	Content         string                `json:"content"`
	Category        *domain.QueryCategory `json:"category"`
	Priority        *domain.Priority      `json:"priority"`
	Tags            []string              `json:"tags"`
	Status          domain.QueryStatus    `json:"status"`
	AssigneeID      *string               `json:"assignee_id"`
	ReceivedAt      time.Time             `json:"received_at"`
	AssignedAt      *time.Time            `json:"assigned_at"`
	FirstResponseAt *time.Time            `json:"first_response_at"`
	ResolvedAt      *time.Time            `json:"resolved_at"`
	SLAState        domain.SLAState       `json:"sla_state"`
	EscalationCount int                   `json:"escalation_count"`
	LastEscalatedAt *time.Time            `json:"last_escalated_at"`
	Version         int64                 `json:"version"`
}

// ActivityResponse renders one audit entry.
type ActivityResponse struct {
	ID        string                `json:"id"`
	Actor     string                `json:"actor"`
	Action    domain.ActivityAction `json:"action"`
	Detail    map[string]any        `json:"detail"`
	CreatedAt time.Time             `json:"created_at"`
}

// NewQueryResponse maps a domain query.
func NewQueryResponse(q *domain.Query) QueryResponse {
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	return QueryResponse{
		ID:              q.ID,
		Channel:         q.Channel,
		SenderEmail:     q.SenderEmail,
		SenderName:      q.SenderName,
		SenderID:        q.SenderID,
		Subject:         q.Subject,
		Content:         q.Content,
		Category:        q.Category,
		Priority:        q.Priority,
		Tags:            tags,
		Status:          q.Status,
		AssigneeID:      q.AssigneeID,
		ReceivedAt:      q.ReceivedAt,
		AssignedAt:      q.AssignedAt,
		FirstResponseAt: q.FirstResponseAt,
		ResolvedAt:      q.ResolvedAt,
		SLAState:        q.SLAState,
		EscalationCount: q.EscalationCount,
		LastEscalatedAt: q.LastEscalatedAt,
		Version:         q.Version,
	}
}

// NewQueryListResponse maps a listing page.
func NewQueryListResponse(page *service.QueryPage) QueryListResponse {
	out := QueryListResponse{
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Queries:  make([]QueryResponse, 0, len(page.Queries)),
	}
	for i := range page.Queries {
		out.Queries = append(out.Queries, NewQueryResponse(&page.Queries[i]))
	}
	return out
}

// NewActivityResponses maps audit entries in order.
func NewActivityResponses(records []domain.ActivityRecord) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(records))
	for _, r := range records {
		out = append(out, ActivityResponse{
			ID:        r.ID,
			Actor:     r.Actor,
			Action:    r.Action,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}
