package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/classifier"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/repository"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// QueryClassifier is the total classification contract the coordinator relies on.
type QueryClassifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

func loadQuery(ctx context.Context, queries repository.QueryRepository, id string) (*domain.Query, error) {
	query, err := queries.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("query", map[string]any{"query_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return query, nil
}

func commitError(err error, queryID string) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewRetryableConflict("query modified concurrently", err, map[string]any{"query_id": queryID})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("query", map[string]any{"query_id": queryID})
	}
	return apperrors.MapError(err)
}

// acquire takes the per-query lock. A held lock is a retryable conflict; an
// unreachable lock store is logged and the version check alone guards the commit.
func acquire(ctx context.Context, locker repository.QueryLocker, logger *zap.Logger, queryID string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	release, err := locker.Lock(ctx, queryID)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, repository.ErrLockHeld) {
		return nil, apperrors.NewRetryableConflict("query is being routed", err, map[string]any{"query_id": queryID})
	}
	logger.Warn("query lock unavailable", zap.String("query_id", queryID), zap.Error(err))
	return func() {}, nil
}

// holderOf returns the agent whose load already includes q.
func holderOf(q *domain.Query) *string {
	if q.AssigneeID != nil && q.Status.Counts() {
		return q.AssigneeID
	}
	return nil
}

// loadActiveAgent fetches an agent that can take work.
func loadActiveAgent(ctx context.Context, agents repository.AgentRepository, agentID string) (*domain.Agent, error) {
	agent, err := agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !agent.Active {
		return nil, apperrors.NewValidationError("agent is inactive", map[string]any{"agent_id": agentID})
	}
	return agent, nil
}

func actorOr(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return domain.ActorSystem
	}
	return actor
}

// assignedStatus is the status a query takes when an agent is attached. Work
// already in progress stays in progress.
func assignedStatus(current domain.QueryStatus) domain.QueryStatus {
	if current == domain.QueryStatusNew {
		return domain.QueryStatusAssigned
	}
	return current
}

// applyClassification writes c onto q. With keepFloor the stored priority is
// never lowered.
func applyClassification(q *domain.Query, c classifier.Classification, keepFloor bool) {
	category := c.Category
	priority := c.Priority
	if keepFloor && q.Priority != nil {
		priority = domain.MaxPriority(*q.Priority, priority)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	q.Category = &category
	q.Priority = &priority
	q.Tags = tags
}

func classificationDetail(result classifier.Result) map[string]any {
	detail := map[string]any{
		"category":  result.Category,
		"priority":  result.Priority,
		"tags":      result.Tags,
		"source":    result.Source,
		"reasoning": result.Reasoning,
		"sentiment": result.Sentiment,
	}
	if result.FallbackReason != "" {
		detail["fallback_reason"] = result.FallbackReason
	}
	return detail
}

func activity(queryID string, action domain.ActivityAction, now time.Time, detail map[string]any) *domain.ActivityRecord {
	return &domain.ActivityRecord{
		QueryID:   queryID,
		Actor:     domain.ActorSystem,
		Action:    action,
		Detail:    detail,
		CreatedAt: now,
	}
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, eventType events.EventType, queryID string, now time.Time, payload any) {
	if dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		QueryID:   queryID,
		Actor:     domain.ActorSystem,
		Timestamp: now,
		Payload:   payload,
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event_type", string(eventType)),
			zap.String("query_id", queryID),
			zap.Error(err))
	}
}

func strPtr(v string) *string {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
