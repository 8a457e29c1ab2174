package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/repository"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// Verdict is what the SLA clock asks for on one query.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictAtRisk
	VerdictEscalate
	VerdictStuck
)

// Escalation reasons.
const (
	EscalationSLABreach = "sla_breach"
	EscalationStuck     = "stuck"
	EscalationManual    = "manual"
)

// EvaluateSLA decides the transition for q at now. The window starts at the
// last escalation or at receipt. Queries that are terminal or already answered
// never transition, and an on-track query is the only one that can become
// at-risk, so states never move backwards.
func EvaluateSLA(q *domain.Query, now time.Time, sla config.SLAPolicy) (Verdict, time.Duration) {
	if q.Status.IsTerminal() || q.FirstResponseAt != nil {
		return VerdictNone, 0
	}
	priority := q.EffectivePriority()
	elapsed := now.Sub(q.SLAReference())
	if elapsed < 0 {
		return VerdictNone, elapsed
	}
	switch {
	case elapsed >= sla.Deadline(priority):
		return VerdictEscalate, elapsed
	case elapsed >= sla.AtRiskAfter(priority) && (q.SLAState == domain.SLAStateOnTrack || q.SLAState == ""):
		return VerdictAtRisk, elapsed
	}
	return VerdictNone, elapsed
}

// EvaluateStuck reports whether an open, unanswered q has gone without
// attention past the stuck threshold for its priority. Idle time runs from
// the latest of receipt, assignment and escalation.
func EvaluateStuck(q *domain.Query, now time.Time, sla config.SLAPolicy) (bool, time.Duration) {
	if q.Status.IsTerminal() || q.FirstResponseAt != nil {
		return false, 0
	}
	idle := now.Sub(q.IdleReference())
	limit := sla.StuckAfter(q.EffectivePriority())
	return limit > 0 && idle >= limit, idle
}

// Transition records one state change made by a sweep or an operator.
type Transition struct {
	QueryID     string
	From        domain.SLAState
	To          domain.SLAState
	OldPriority domain.Priority
	NewPriority domain.Priority
	OldAssignee *string
	NewAssignee *string
	Capped      bool
	Reassigned  bool
	Reason      string
	Elapsed     time.Duration
}

// AtRiskEntry is one row of the at-risk report.
type AtRiskEntry struct {
	Query     domain.Query
	Priority  domain.Priority
	Elapsed   time.Duration
	Deadline  time.Duration
	Remaining time.Duration
}

// StaleEntry is one row of the getting-stale report.
type StaleEntry struct {
	Query     domain.Query
	Priority  domain.Priority
	Idle      time.Duration
	Threshold time.Duration
	Remaining time.Duration
}

// EscalateInput describes an operator escalation. A non-empty AgentID hands
// the query to that agent instead of the balancer's pick.
type EscalateInput struct {
	Reason  string
	AgentID string
	Actor   string
}

// EscalationService runs the SLA state machine over open queries.
type EscalationService struct {
	queries    repository.QueryRepository
	agents     repository.AgentRepository
	director   *TeamDirector
	balancer   *LoadBalancer
	sla        config.SLAPolicy
	locker     repository.QueryLocker
	dispatcher events.Dispatcher
	clock      Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// EscalationDependencies bundles collaborators.
type EscalationDependencies struct {
	QueryRepo  repository.QueryRepository
	AgentRepo  repository.AgentRepository
	Director   *TeamDirector
	Balancer   *LoadBalancer
	SLA        config.SLAPolicy
	Locker     repository.QueryLocker
	Dispatcher events.Dispatcher
	Clock      Clock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewEscalationService creates the service.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	s := &EscalationService{
		queries:    deps.QueryRepo,
		agents:     deps.AgentRepo,
		director:   deps.Director,
		balancer:   deps.Balancer,
		sla:        deps.SLA,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Sweep evaluates every open query at now and commits the transitions it
// finds. A breached SLA wins over a stuck query. Running it twice with the
// same now yields no transitions the second time. Queries that lose a commit
// race are skipped until the next pass.
func (s *EscalationService) Sweep(ctx context.Context, now time.Time) ([]Transition, error) {
	open, err := s.queries.ListOpen(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	var transitions []Transition
	for i := range open {
		query := &open[i]
		verdict, elapsed := EvaluateSLA(query, now, s.sla)
		if verdict == VerdictNone {
			stuck, idle := EvaluateStuck(query, now, s.sla)
			if !stuck {
				continue
			}
			verdict, elapsed = VerdictStuck, idle
		}
		transition, err := s.apply(ctx, query, verdict, elapsed, now)
		if err != nil {
			if isConflict(err) {
				s.metrics.RecordDecision(observability.DecisionConflict)
			}
			s.logger.Warn("escalation skipped query", zap.String("query_id", query.ID), zap.Error(err))
			continue
		}
		transitions = append(transitions, *transition)
	}
	s.logger.Info("escalation sweep finished",
		zap.Int("open", len(open)),
		zap.Int("transitions", len(transitions)),
		zap.Time("now", now))
	return transitions, nil
}

// AtRisk lists open, unanswered queries past the at-risk threshold but not yet
// past the full SLA, closest to breach first. It writes nothing.
func (s *EscalationService) AtRisk(ctx context.Context, now time.Time) ([]AtRiskEntry, error) {
	open, err := s.queries.ListOpen(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	var entries []AtRiskEntry
	for _, query := range open {
		if query.Status.IsTerminal() || query.FirstResponseAt != nil {
			continue
		}
		priority := query.EffectivePriority()
		elapsed := now.Sub(query.SLAReference())
		deadline := s.sla.Deadline(priority)
		if elapsed < s.sla.AtRiskAfter(priority) || elapsed >= deadline {
			continue
		}
		entries = append(entries, AtRiskEntry{
			Query:     query,
			Priority:  priority,
			Elapsed:   elapsed,
			Deadline:  deadline,
			Remaining: deadline - elapsed,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Remaining < entries[j].Remaining
	})
	return entries, nil
}

// Stale lists open, unanswered queries idle past the stale fraction of their
// stuck threshold but not yet stuck, closest to stuck first. It writes nothing.
func (s *EscalationService) Stale(ctx context.Context, now time.Time) ([]StaleEntry, error) {
	open, err := s.queries.ListOpen(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	var entries []StaleEntry
	for _, query := range open {
		if query.Status.IsTerminal() || query.FirstResponseAt != nil {
			continue
		}
		priority := query.EffectivePriority()
		idle := now.Sub(query.IdleReference())
		threshold := s.sla.StuckAfter(priority)
		if idle < s.sla.StaleAfter(priority) || idle >= threshold {
			continue
		}
		entries = append(entries, StaleEntry{
			Query:     query,
			Priority:  priority,
			Idle:      idle,
			Threshold: threshold,
			Remaining: threshold - idle,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Remaining < entries[j].Remaining
	})
	return entries, nil
}

// Escalate bumps a query on an operator's request, whatever its SLA clock
// says. Closed queries cannot be escalated.
func (s *EscalationService) Escalate(ctx context.Context, queryID string, in EscalateInput) (*Transition, error) {
	release, err := acquire(ctx, s.locker, s.logger, queryID)
	if err != nil {
		return nil, err
	}
	defer release()

	query, err := loadQuery(ctx, s.queries, queryID)
	if err != nil {
		return nil, err
	}
	if query.Status.IsTerminal() {
		return nil, apperrors.NewConflict("query is closed", map[string]any{"query_id": queryID, "status": query.Status})
	}
	var target *domain.Agent
	if agentID := strings.TrimSpace(in.AgentID); agentID != "" {
		if target, err = loadActiveAgent(ctx, s.agents, agentID); err != nil {
			return nil, err
		}
	}
	now := s.clock.Now()
	return s.escalate(ctx, query, escalation{
		reason:  EscalationManual,
		note:    strings.TrimSpace(in.Reason),
		elapsed: now.Sub(query.SLAReference()),
		target:  target,
		actor:   in.Actor,
		now:     now,
	})
}

func (s *EscalationService) apply(ctx context.Context, query *domain.Query, verdict Verdict, elapsed time.Duration, now time.Time) (*Transition, error) {
	release, err := acquire(ctx, s.locker, s.logger, query.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	priority := query.EffectivePriority()
	switch verdict {
	case VerdictAtRisk:
		return s.markAtRisk(ctx, query, elapsed, now)
	case VerdictStuck:
		return s.escalate(ctx, query, escalation{
			reason:  EscalationStuck,
			elapsed: elapsed,
			limit:   s.sla.StuckAfter(priority),
			now:     now,
		})
	}
	return s.escalate(ctx, query, escalation{
		reason:  EscalationSLABreach,
		elapsed: elapsed,
		limit:   s.sla.Deadline(priority),
		now:     now,
	})
}

func (s *EscalationService) markAtRisk(ctx context.Context, query *domain.Query, elapsed time.Duration, now time.Time) (*Transition, error) {
	priority := query.EffectivePriority()
	deadline := s.sla.Deadline(priority)
	transition := newTransition(query, elapsed)
	transition.To = domain.SLAStateAtRisk

	next := query.Clone()
	next.SLAState = domain.SLAStateAtRisk
	record := activity(query.ID, domain.ActionAtRisk, now, map[string]any{
		"priority": priority,
		"elapsed":  elapsed.String(),
		"deadline": deadline.String(),
	})
	if err := s.queries.Commit(ctx, next, query.Version, record); err != nil {
		return nil, commitError(err, query.ID)
	}
	s.metrics.RecordDecision(observability.DecisionAtRisk)
	s.logger.Info("query at risk",
		zap.String("query_id", query.ID),
		zap.String("priority", string(priority)),
		zap.Duration("elapsed", elapsed))
	publish(ctx, s.dispatcher, s.logger, events.EventQueryAtRisk, query.ID, now, events.QuerySLAPayload{
		OldPriority: priority,
		NewPriority: priority,
		Elapsed:     elapsed.String(),
		Deadline:    deadline.String(),
	})
	return transition, nil
}

// escalation carries what triggered one priority bump. limit is the window
// that was exceeded and is zero for operator escalations; target overrides
// the balancer.
type escalation struct {
	reason  string
	note    string
	elapsed time.Duration
	limit   time.Duration
	target  *domain.Agent
	actor   string
	now     time.Time
}

// escalate bumps the priority, restarts the SLA window and rebalances. The
// caller holds the query lock.
func (s *EscalationService) escalate(ctx context.Context, query *domain.Query, e escalation) (*Transition, error) {
	now := e.now
	priority := query.EffectivePriority()
	bumped := priority.Bump()
	transition := newTransition(query, e.elapsed)
	transition.Capped = priority == domain.PriorityUrgent
	transition.NewPriority = bumped
	transition.To = domain.SLAStateEscalated
	transition.Reason = e.reason

	next := query.Clone()
	next.Priority = &bumped
	next.SLAState = domain.SLAStateEscalated
	next.EscalationCount++
	next.LastEscalatedAt = timePtr(now)

	detail := map[string]any{
		"old_priority": priority,
		"new_priority": bumped,
		"capped":       transition.Capped,
		"elapsed":      e.elapsed.String(),
		"escalations":  next.EscalationCount,
		"reason":       e.reason,
	}
	if e.limit > 0 {
		detail["deadline"] = e.limit.String()
	}
	if e.note != "" {
		detail["note"] = e.note
	}
	escalated := activity(query.ID, domain.ActionEscalated, now, detail)
	escalated.Actor = actorOr(e.actor)
	records := []*domain.ActivityRecord{escalated}

	team := s.director.Route(next.Category, next.Tags)
	pick, err := s.rebalance(ctx, query, team, bumped, e.target)
	if err != nil {
		s.logger.Warn("rebalance failed; keeping assignee", zap.String("query_id", query.ID), zap.Error(err))
	} else if pick != nil && (query.AssigneeID == nil || *query.AssigneeID != pick.ID) {
		team = pick.Team
		next.AssigneeID = strPtr(pick.ID)
		next.AssignedAt = timePtr(now)
		next.Status = assignedStatus(query.Status)
		transition.NewAssignee = next.AssigneeID
		transition.Reassigned = true
		action := domain.ActionReassigned
		if query.AssigneeID == nil {
			action = domain.ActionAssigned
		}
		moved := activity(query.ID, action, now, map[string]any{
			"agent_id":          pick.ID,
			"previous_agent_id": query.AssigneeID,
			"team":              team,
			"priority":          bumped,
			"reason":            "escalation",
		})
		moved.Actor = escalated.Actor
		records = append(records, moved)
	}

	if err := s.queries.Commit(ctx, next, query.Version, records...); err != nil {
		return nil, commitError(err, query.ID)
	}
	s.metrics.RecordDecision(observability.DecisionEscalated)
	s.logger.Info("query escalated",
		zap.String("query_id", query.ID),
		zap.String("reason", e.reason),
		zap.String("old_priority", string(priority)),
		zap.String("new_priority", string(bumped)),
		zap.Bool("capped", transition.Capped),
		zap.Bool("reassigned", transition.Reassigned))
	payload := events.QuerySLAPayload{
		OldPriority: priority,
		NewPriority: bumped,
		Elapsed:     e.elapsed.String(),
		Capped:      transition.Capped,
		Reason:      e.reason,
	}
	if e.limit > 0 {
		payload.Deadline = e.limit.String()
	}
	publish(ctx, s.dispatcher, s.logger, events.EventQueryEscalated, query.ID, now, payload)
	if transition.Reassigned {
		eventType := events.EventQueryReassigned
		if query.AssigneeID == nil {
			eventType = events.EventQueryAssigned
		}
		s.metrics.RecordDecision(observability.DecisionReassigned)
		publish(ctx, s.dispatcher, s.logger, eventType, query.ID, now, events.QueryAssignedPayload{
			AgentID:       *next.AssigneeID,
			Team:          team,
			Priority:      bumped,
			PreviousAgent: query.AssigneeID,
		})
	}
	return transition, nil
}

// rebalance returns the agent the escalated query should sit with. A named
// target wins. Unclassified queries are left to batch assignment, which
// classifies first.
func (s *EscalationService) rebalance(ctx context.Context, query *domain.Query, team domain.Team, priority domain.Priority, target *domain.Agent) (*domain.Agent, error) {
	if target != nil {
		return target, nil
	}
	if query.Category == nil {
		return nil, nil
	}
	pick, err := s.balancer.Select(ctx, team, priority, holderOf(query))
	if err != nil || pick == nil {
		return nil, err
	}
	return &pick.Agent, nil
}

func newTransition(query *domain.Query, elapsed time.Duration) *Transition {
	priority := query.EffectivePriority()
	t := &Transition{
		QueryID:     query.ID,
		From:        query.SLAState,
		OldPriority: priority,
		NewPriority: priority,
		OldAssignee: query.AssigneeID,
		NewAssignee: query.AssigneeID,
		Elapsed:     elapsed,
	}
	if t.From == "" {
		t.From = domain.SLAStateOnTrack
	}
	return t
}

func isConflict(err error) bool {
	var domainErr *apperrors.DomainError
	return errors.As(err, &domainErr) && domainErr.Retryable()
}
