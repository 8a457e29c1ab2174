package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supportdesk/triage-service/internal/classifier"
	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/repository"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fixedClassifier struct {
	mu       sync.Mutex
	result   classifier.Result
	subjects []string
}

func (f *fixedClassifier) Classify(_ context.Context, in classifier.Input) classifier.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, in.Subject)
	return f.result
}

func classifyAs(category domain.QueryCategory, priority domain.Priority, tags ...string) *fixedClassifier {
	return &fixedClassifier{result: classifier.Result{
		Classification: classifier.Classification{Category: category, Priority: priority, Tags: tags},
		Source:         classifier.SourceAI,
	}}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store      *repository.MemoryStore
	clock      *FixedClock
	policy     config.Policy
	recorder   *eventRecorder
	metrics    *observability.Metrics
	assignment *AssignmentService
	escalation *EscalationService
}

type fixtureOption func(*repository.MemoryStore, *AssignmentDependencies, *EscalationDependencies)

// withConflictingCommits makes every engine commit lose the version race.
func withConflictingCommits() fixtureOption {
	return func(store *repository.MemoryStore, a *AssignmentDependencies, e *EscalationDependencies) {
		a.QueryRepo = conflictingRepo{store}
		e.QueryRepo = conflictingRepo{store}
	}
}

// withStuckAfter tightens the stuck table for one priority.
func withStuckAfter(priority domain.Priority, d time.Duration) fixtureOption {
	return func(_ *repository.MemoryStore, _ *AssignmentDependencies, e *EscalationDependencies) {
		e.SLA.Stuck[priority] = d
	}
}

func newFixture(c QueryClassifier, opts ...fixtureOption) *fixture {
	store := repository.NewMemoryStore()
	clock := NewFixedClock(t0)
	policy := config.DefaultPolicy()
	recorder := &eventRecorder{}
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(recorder.handle)
	metrics := observability.NewMetrics()
	director := NewTeamDirector(policy)
	balancer := NewLoadBalancer(store.Agents(), policy.Capacity)

	assignDeps := AssignmentDependencies{
		QueryRepo:  store,
		AgentRepo:  store.Agents(),
		Classifier: c,
		Director:   director,
		Balancer:   balancer,
		Locker:     repository.NoopLocker(),
		Dispatcher: dispatcher,
		Clock:      clock,
		Metrics:    metrics,
	}
	escalationDeps := EscalationDependencies{
		QueryRepo:  store,
		AgentRepo:  store.Agents(),
		Director:   director,
		Balancer:   balancer,
		SLA:        policy.SLA,
		Locker:     repository.NoopLocker(),
		Dispatcher: dispatcher,
		Clock:      clock,
		Metrics:    metrics,
	}
	for _, opt := range opts {
		opt(store, &assignDeps, &escalationDeps)
	}
	return &fixture{
		store:      store,
		clock:      clock,
		policy:     policy,
		recorder:   recorder,
		metrics:    metrics,
		assignment: NewAssignmentService(assignDeps),
		escalation: NewEscalationService(escalationDeps),
	}
}

func (f *fixture) addAgent(id string, team domain.Team) error {
	return f.store.Agents().Create(context.Background(), &domain.Agent{
		ID:     id,
		Name:   id,
		Email:  id + "@example.com",
		Team:   team,
		Active: true,
	})
}

// seedLoad gives agentID n in-progress queries the engine will never touch again.
func (f *fixture) seedLoad(agentID string, n int) error {
	for i := 0; i < n; i++ {
		priority := domain.PriorityLow
		category := domain.CategoryGeneral
		responded := t0
		q := &domain.Query{
			ID:              fmt.Sprintf("%s-load-%d", agentID, i),
			Channel:         domain.ChannelEmail,
			Subject:         "existing work",
			Content:         "existing work",
			Category:        &category,
			Priority:        &priority,
			Status:          domain.QueryStatusInProgress,
			AssigneeID:      strPtr(agentID),
			AssignedAt:      timePtr(t0),
			FirstResponseAt: &responded,
			ReceivedAt:      t0,
		}
		if err := f.store.Create(context.Background(), q); err != nil {
			return err
		}
	}
	return nil
}

func (f *fixture) addQuery(id string, received time.Time) error {
	return f.store.Create(context.Background(), &domain.Query{
		ID:         id,
		Channel:    domain.ChannelEmail,
		Subject:    id,
		Content:    "message " + id,
		ReceivedAt: received,
	})
}

func (f *fixture) addClassifiedQuery(id string, category domain.QueryCategory, priority domain.Priority, assignee *string) error {
	q := &domain.Query{
		ID:         id,
		Channel:    domain.ChannelChat,
		Subject:    id,
		Content:    "message " + id,
		Category:   &category,
		Priority:   &priority,
		Status:     domain.QueryStatusNew,
		ReceivedAt: t0,
	}
	if assignee != nil {
		q.AssigneeID = assignee
		q.AssignedAt = timePtr(t0)
		q.Status = domain.QueryStatusAssigned
	}
	return f.store.Create(context.Background(), q)
}

func (f *fixture) query(id string) *domain.Query {
	q, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return q
}

// setStatus moves a query outside the engine, the way an agent would.
func (f *fixture) setStatus(id string, status domain.QueryStatus, at time.Time) error {
	q, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	_, err = f.store.UpdateStatus(context.Background(), id, status, q.Version, at)
	return err
}

// conflictingRepo fails every commit as if another writer won the race.
type conflictingRepo struct {
	repository.QueryRepository
}

func (conflictingRepo) Commit(context.Context, *domain.Query, int64, ...*domain.ActivityRecord) error {
	return repository.ErrVersionConflict
}
