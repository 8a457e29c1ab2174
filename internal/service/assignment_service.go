package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/classifier"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/repository"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

// Outcome reasons.
const (
	ReasonNoEligibleAgent = "no_eligible_agent"
	ReasonAlreadyAssigned = "already_assigned"
)

// Outcome is the result of routing one query: assigned to an agent, or left
// unassigned with a reason.
type Outcome struct {
	QueryID  string
	Assigned bool
	AgentID  *string
	Team     domain.Team
	Category *domain.QueryCategory
	Priority domain.Priority
	Tags     []string
	Source   classifier.Source
	Reason   string
	Query    *domain.Query
}

// BatchResult summarizes a batch assignment pass. Unassigned includes Skipped.
type BatchResult struct {
	Processed  int
	Assigned   int
	Unassigned int
	Skipped    int
	Outcomes   []Outcome
}

// AgentSnapshot is one agent's load next to its ceilings.
type AgentSnapshot struct {
	AgentID       string
	Name          string
	Team          domain.Team
	Active        bool
	ActiveTickets int
	ByPriority    map[domain.Priority]int
	Ceilings      map[domain.Priority]int
}

// Stats reports the backlog per team and the per-agent load.
type Stats struct {
	Unassigned   map[domain.Team]int
	Unclassified int
	Agents       []AgentSnapshot
	GeneratedAt  time.Time
}

// AssignmentService coordinates classify, direct and balance for queries.
type AssignmentService struct {
	queries    repository.QueryRepository
	agents     repository.AgentRepository
	classifier QueryClassifier
	director   *TeamDirector
	balancer   *LoadBalancer
	locker     repository.QueryLocker
	dispatcher events.Dispatcher
	clock      Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	QueryRepo  repository.QueryRepository
	AgentRepo  repository.AgentRepository
	Classifier QueryClassifier
	Director   *TeamDirector
	Balancer   *LoadBalancer
	Locker     repository.QueryLocker
	Dispatcher events.Dispatcher
	Clock      Clock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	s := &AssignmentService{
		queries:    deps.QueryRepo,
		agents:     deps.AgentRepo,
		classifier: deps.Classifier,
		director:   deps.Director,
		balancer:   deps.Balancer,
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

// Assign classifies (when needed), directs and balances one query. Calling it
// again after a conflict is safe: it works from the latest stored state.
func (s *AssignmentService) Assign(ctx context.Context, queryID string) (*Outcome, error) {
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
	if query.AssigneeID != nil {
		out := newOutcome(query, s.director.Route(query.Category, query.Tags), "")
		out.Reason = ReasonAlreadyAssigned
		return out, nil
	}

	expected := query.Version
	next := query.Clone()
	now := s.clock.Now()
	var records []*domain.ActivityRecord
	var classified *classifier.Result
	if !next.Classified() {
		result := s.classifier.Classify(ctx, classifier.InputFromQuery(next))
		classified = &result
		applyClassification(next, result.Classification, true)
		records = append(records, activity(next.ID, domain.ActionCategorized, now, classificationDetail(result)))
	}

	priority := next.EffectivePriority()
	team := s.director.Route(next.Category, next.Tags)
	pick, err := s.balancer.Select(ctx, team, priority, nil)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if pick == nil {
		out := newOutcome(next, team, sourceOf(classified))
		out.Reason = ReasonNoEligibleAgent
		if classified == nil {
			return out, nil
		}
		records = append(records, activity(next.ID, domain.ActionUnassigned, now, map[string]any{
			"team":     team,
			"priority": priority,
			"reason":   ReasonNoEligibleAgent,
		}))
		if err := s.queries.Commit(ctx, next, expected, records...); err != nil {
			s.metrics.RecordDecision(observability.DecisionConflict)
			return nil, commitError(err, next.ID)
		}
		s.recordClassification(*classified)
		s.metrics.RecordDecision(observability.DecisionUnassigned)
		s.logger.Info("query left unassigned",
			zap.String("query_id", next.ID),
			zap.String("team", string(team)),
			zap.String("priority", string(priority)),
			zap.String("reason", ReasonNoEligibleAgent))
		s.publishClassified(ctx, next.ID, now, *classified)
		publish(ctx, s.dispatcher, s.logger, events.EventQueryUnassigned, next.ID, now, events.QueryUnassignedPayload{
			Team:   team,
			Reason: ReasonNoEligibleAgent,
		})
		out.Query = next
		return out, nil
	}

	agentID := pick.Agent.ID
	next.AssigneeID = strPtr(agentID)
	next.AssignedAt = timePtr(now)
	next.Status = domain.QueryStatusAssigned
	records = append(records, activity(next.ID, domain.ActionAssigned, now, map[string]any{
		"agent_id":       agentID,
		"team":           team,
		"priority":       priority,
		"active_tickets": pick.ActiveTickets,
	}))
	if err := s.queries.Commit(ctx, next, expected, records...); err != nil {
		s.metrics.RecordDecision(observability.DecisionConflict)
		return nil, commitError(err, next.ID)
	}
	if classified != nil {
		s.recordClassification(*classified)
		s.publishClassified(ctx, next.ID, now, *classified)
	}
	s.metrics.RecordDecision(observability.DecisionAssigned)
	s.logger.Info("query assigned",
		zap.String("query_id", next.ID),
		zap.String("agent_id", agentID),
		zap.String("team", string(team)),
		zap.String("priority", string(priority)))
	publish(ctx, s.dispatcher, s.logger, events.EventQueryAssigned, next.ID, now, events.QueryAssignedPayload{
		AgentID:  agentID,
		Team:     team,
		Priority: priority,
	})

	out := newOutcome(next, team, sourceOf(classified))
	out.Assigned = true
	return out, nil
}

// BatchAssign routes unassigned queries oldest first. A non-positive limit
// processes all of them. Queries that fail to commit are skipped and counted.
func (s *AssignmentService) BatchAssign(ctx context.Context, limit int) (*BatchResult, error) {
	pending, err := s.queries.ListUnassigned(ctx, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	result := &BatchResult{}
	for _, query := range pending {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		outcome, err := s.Assign(ctx, query.ID)
		if err != nil {
			result.Skipped++
			result.Unassigned++
			s.logger.Warn("batch assign skipped query", zap.String("query_id", query.ID), zap.Error(err))
			continue
		}
		result.Outcomes = append(result.Outcomes, *outcome)
		if outcome.Assigned {
			result.Assigned++
		} else {
			result.Unassigned++
		}
	}
	s.logger.Info("batch assign finished",
		zap.Int("processed", result.Processed),
		zap.Int("assigned", result.Assigned),
		zap.Int("unassigned", result.Unassigned))
	return result, nil
}

// Recategorize re-runs classification. Assignment is untouched unless reroute
// is set, in which case the balancer runs for the new team and priority and the
// query moves only when a different agent is selected. Escalated queries keep
// their priority floor.
func (s *AssignmentService) Recategorize(ctx context.Context, queryID string, reroute bool) (*Outcome, error) {
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

	expected := query.Version
	next := query.Clone()
	now := s.clock.Now()
	result := s.classifier.Classify(ctx, classifier.InputFromQuery(next))
	applyClassification(next, result.Classification, next.EscalationCount > 0)

	detail := classificationDetail(result)
	detail["old_category"] = query.Category
	detail["old_priority"] = query.Priority
	detail["priority"] = *next.Priority
	records := []*domain.ActivityRecord{activity(next.ID, domain.ActionRecategorized, now, detail)}

	team := s.director.Route(next.Category, next.Tags)
	out := newOutcome(next, team, result.Source)
	var moved *string
	if reroute {
		pick, err := s.balancer.Select(ctx, team, next.EffectivePriority(), holderOf(query))
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		switch {
		case pick == nil:
			out.Reason = ReasonNoEligibleAgent
		case query.AssigneeID == nil || *query.AssigneeID != pick.Agent.ID:
			moved = strPtr(pick.Agent.ID)
			next.AssigneeID = moved
			next.AssignedAt = timePtr(now)
			next.Status = assignedStatus(query.Status)
			action := domain.ActionAssigned
			if query.AssigneeID != nil {
				action = domain.ActionReassigned
			}
			records = append(records, activity(next.ID, action, now, map[string]any{
				"agent_id":          pick.Agent.ID,
				"previous_agent_id": query.AssigneeID,
				"team":              team,
				"priority":          next.EffectivePriority(),
			}))
		}
	}

	if err := s.queries.Commit(ctx, next, expected, records...); err != nil {
		s.metrics.RecordDecision(observability.DecisionConflict)
		return nil, commitError(err, next.ID)
	}
	s.recordClassification(result)
	s.metrics.RecordDecision(observability.DecisionRecategorize)
	s.logger.Info("query recategorized",
		zap.String("query_id", next.ID),
		zap.String("category", string(*next.Category)),
		zap.String("priority", string(*next.Priority)),
		zap.Bool("reroute", reroute))
	publish(ctx, s.dispatcher, s.logger, events.EventQueryRecategorized, next.ID, now, events.QueryRecategorizedPayload{
		OldCategory: query.Category,
		NewCategory: *next.Category,
		OldPriority: query.Priority,
		NewPriority: *next.Priority,
	})
	if moved != nil {
		eventType := events.EventQueryAssigned
		if query.AssigneeID != nil {
			eventType = events.EventQueryReassigned
			s.metrics.RecordDecision(observability.DecisionReassigned)
		} else {
			s.metrics.RecordDecision(observability.DecisionAssigned)
		}
		publish(ctx, s.dispatcher, s.logger, eventType, next.ID, now, events.QueryAssignedPayload{
			AgentID:       *moved,
			Team:          team,
			Priority:      next.EffectivePriority(),
			PreviousAgent: query.AssigneeID,
		})
	}
	out.AgentID = next.AssigneeID
	out.Assigned = next.AssigneeID != nil
	out.Query = next
	return out, nil
}

// ManualAssignInput names the agent an operator hands a query to.
type ManualAssignInput struct {
	AgentID string
	Reason  string
	Actor   string
}

// AssignTo attaches a query to a named agent, bypassing the balancer and the
// capacity ceilings. The agent must exist and be active. Naming the current
// holder changes nothing.
func (s *AssignmentService) AssignTo(ctx context.Context, queryID string, in ManualAssignInput) (*Outcome, error) {
	agentID := strings.TrimSpace(in.AgentID)
	if agentID == "" {
		return nil, apperrors.NewValidationError("agent_id required", nil)
	}
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
	agent, err := loadActiveAgent(ctx, s.agents, agentID)
	if err != nil {
		return nil, err
	}
	if query.AssigneeID != nil && *query.AssigneeID == agentID {
		out := newOutcome(query, agent.Team, "")
		out.Reason = ReasonAlreadyAssigned
		return out, nil
	}

	expected := query.Version
	next := query.Clone()
	now := s.clock.Now()
	next.AssigneeID = strPtr(agentID)
	next.AssignedAt = timePtr(now)
	next.Status = assignedStatus(query.Status)
	action := domain.ActionAssigned
	eventType := events.EventQueryAssigned
	if query.AssigneeID != nil {
		action = domain.ActionReassigned
		eventType = events.EventQueryReassigned
	}
	record := activity(next.ID, action, now, map[string]any{
		"agent_id":          agentID,
		"previous_agent_id": query.AssigneeID,
		"team":              agent.Team,
		"priority":          next.EffectivePriority(),
		"reason":            in.Reason,
		"manual":            true,
	})
	record.Actor = actorOr(in.Actor)
	if err := s.queries.Commit(ctx, next, expected, record); err != nil {
		s.metrics.RecordDecision(observability.DecisionConflict)
		return nil, commitError(err, next.ID)
	}
	if query.AssigneeID != nil {
		s.metrics.RecordDecision(observability.DecisionReassigned)
	} else {
		s.metrics.RecordDecision(observability.DecisionAssigned)
	}
	s.logger.Info("query assigned manually",
		zap.String("query_id", next.ID),
		zap.String("agent_id", agentID),
		zap.String("actor", record.Actor))
	publish(ctx, s.dispatcher, s.logger, eventType, next.ID, now, events.QueryAssignedPayload{
		AgentID:       agentID,
		Team:          agent.Team,
		Priority:      next.EffectivePriority(),
		PreviousAgent: query.AssigneeID,
	})
	return newOutcome(next, agent.Team, ""), nil
}

// Stats reports the unassigned backlog per routed team and every agent's load.
func (s *AssignmentService) Stats(ctx context.Context) (*Stats, error) {
	pending, err := s.queries.ListUnassigned(ctx, 0)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	stats := &Stats{
		Unassigned:  make(map[domain.Team]int, len(domain.Teams)),
		GeneratedAt: s.clock.Now(),
	}
	for _, team := range domain.Teams {
		stats.Unassigned[team] = 0
	}
	for i := range pending {
		query := &pending[i]
		if query.Category == nil {
			stats.Unclassified++
			continue
		}
		stats.Unassigned[s.director.Route(query.Category, query.Tags)]++
	}

	loads, err := s.agents.ListLoads(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	for _, load := range loads {
		stats.Agents = append(stats.Agents, s.snapshot(load))
	}
	return stats, nil
}

// AgentLoad returns one agent's current load.
func (s *AssignmentService) AgentLoad(ctx context.Context, agentID string) (*AgentSnapshot, error) {
	load, err := s.agents.Load(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	snapshot := s.snapshot(*load)
	return &snapshot, nil
}

func (s *AssignmentService) snapshot(load domain.AgentLoad) AgentSnapshot {
	ceilings := make(map[domain.Priority]int, len(domain.Priorities))
	for _, p := range domain.Priorities {
		ceilings[p] = s.balancer.Ceiling(load.Agent, p)
	}
	return AgentSnapshot{
		AgentID:       load.Agent.ID,
		Name:          load.Agent.Name,
		Team:          load.Agent.Team,
		Active:        load.Agent.Active,
		ActiveTickets: load.ActiveTickets,
		ByPriority:    load.ByPriority,
		Ceilings:      ceilings,
	}
}

func (s *AssignmentService) recordClassification(result classifier.Result) {
	if result.Fallback() {
		s.metrics.RecordDecision(observability.DecisionRuleFallback)
		return
	}
	s.metrics.RecordDecision(observability.DecisionAIClassified)
}

func (s *AssignmentService) publishClassified(ctx context.Context, queryID string, now time.Time, result classifier.Result) {
	publish(ctx, s.dispatcher, s.logger, events.EventQueryClassified, queryID, now, events.QueryClassifiedPayload{
		Category:       result.Category,
		Priority:       result.Priority,
		Tags:           result.Tags,
		Source:         string(result.Source),
		FallbackReason: result.FallbackReason,
	})
}

func newOutcome(q *domain.Query, team domain.Team, source classifier.Source) *Outcome {
	return &Outcome{
		QueryID:  q.ID,
		Assigned: q.AssigneeID != nil,
		AgentID:  q.AssigneeID,
		Team:     team,
		Category: q.Category,
		Priority: q.EffectivePriority(),
		Tags:     q.Tags,
		Source:   source,
		Query:    q,
	}
}

func sourceOf(result *classifier.Result) classifier.Source {
	if result == nil {
		return ""
	}
	return result.Source
}
