package dto

import (
	"time"

	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/service"
)

// EscalateRequest payload. EscalateTo optionally names the agent to take over.
type EscalateRequest struct {
	QueryID    string `json:"query_id"`
	Reason     string `json:"reason"`
	EscalateTo string `json:"escalate_to"`
}

// TransitionResponse renders one sweep transition.
type TransitionResponse struct {
	QueryID     string          `json:"query_id"`
	From        domain.SLAState `json:"from"`
	To          domain.SLAState `json:"to"`
	OldPriority domain.Priority `json:"old_priority"`
	NewPriority domain.Priority `json:"new_priority"`
	OldAssignee *string         `json:"old_assignee"`
	NewAssignee *string         `json:"new_assignee"`
	Capped      bool            `json:"capped"`
	Reassigned  bool            `json:"reassigned"`
	Reason      string          `json:"reason,omitempty"`
	Elapsed     string          `json:"elapsed"`
}

// SweepResponse renders a sweep.
type SweepResponse struct {
	Now         time.Time            `json:"now"`
	Transitions []TransitionResponse `json:"transitions"`
}

// AtRiskResponse renders one at-risk row.
type AtRiskResponse struct {
	Query     QueryResponse   `json:"query"`
	Priority  domain.Priority `json:"priority"`
	Elapsed   string          `json:"elapsed"`
	Deadline  string          `json:"deadline"`
	Remaining string          `json:"remaining"`
}

// StaleResponse renders one getting-stale row.
type StaleResponse struct {
	Query     QueryResponse   `json:"query"`
	Priority  domain.Priority `json:"priority"`
	Idle      string          `json:"idle"`
	Threshold string          `json:"stuck_after"`
	Remaining string          `json:"remaining"`
}

// NewSweepResponse maps sweep transitions.
func NewSweepResponse(now time.Time, transitions []service.Transition) SweepResponse {
	out := SweepResponse{Now: now, Transitions: make([]TransitionResponse, 0, len(transitions))}
	for _, t := range transitions {
		out.Transitions = append(out.Transitions, NewTransitionResponse(t))
	}
	return out
}

// NewTransitionResponse maps one transition.
func NewTransitionResponse(t service.Transition) TransitionResponse {
	return TransitionResponse{
		QueryID:     t.QueryID,
		From:        t.From,
		To:          t.To,
		OldPriority: t.OldPriority,
		NewPriority: t.NewPriority,
		OldAssignee: t.OldAssignee,
		NewAssignee: t.NewAssignee,
		Capped:      t.Capped,
		Reassigned:  t.Reassigned,
		Reason:      t.Reason,
		Elapsed:     t.Elapsed.String(),
	}
}

// NewStaleResponses maps the getting-stale report.
func NewStaleResponses(entries []service.StaleEntry) []StaleResponse {
	out := make([]StaleResponse, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, StaleResponse{
			Query:     NewQueryResponse(&e.Query),
			Priority:  e.Priority,
			Idle:      e.Idle.String(),
			Threshold: e.Threshold.String(),
			Remaining: e.Remaining.String(),
		})
	}
	return out
}

// NewAtRiskResponses maps the at-risk report.
func NewAtRiskResponses(entries []service.AtRiskEntry) []AtRiskResponse {
	out := make([]AtRiskResponse, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, AtRiskResponse{
			Query:     NewQueryResponse(&e.Query),
			Priority:  e.Priority,
			Elapsed:   e.Elapsed.String(),
			Deadline:  e.Deadline.String(),
			Remaining: e.Remaining.String(),
		})
	}
	return out
}
