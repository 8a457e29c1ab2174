package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supportdesk/triage-service/internal/domain"
)

// MemoryStore keeps queries, agents and activity in process. It satisfies
// every repository interface and is used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	queries    map[string]*domain.Query
	agents     map[string]*domain.Agent
	activities []domain.ActivityRecord
	now        func() time.Time
}

var _ QueryRepository = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queries: make(map[string]*domain.Query),
		agents:  make(map[string]*domain.Agent),
		now:     time.Now,
	}
}

// Create stores a new query.
func (s *MemoryStore) Create(_ context.Context, query *domain.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	if query.Status == "" {
		query.Status = domain.QueryStatusNew
	}
	if query.SLAState == "" {
		query.SLAState = domain.SLAStateOnTrack
	}
	if query.ReceivedAt.IsZero() {
		query.ReceivedAt = s.now()
	}
	if query.Tags == nil {
		query.Tags = []string{}
	}
	s.queries[query.ID] = query.Clone()
	return nil
}

// GetByID returns a copy of the stored query.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return q.Clone(), nil
}

func (s *MemoryStore) ListUnassigned(_ context.Context, limit int) ([]domain.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Query
	for _, q := range s.queries {
		if q.Status == domain.QueryStatusNew && q.AssigneeID == nil {
			result = append(result, *q.Clone())
		}
	}
	sortByReceived(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]domain.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Query
	for _, q := range s.queries {
		if !q.Status.IsTerminal() {
			result = append(result, *q.Clone())
		}
	}
	sortByReceived(result)
	return result, nil
}

func (s *MemoryStore) List(_ context.Context, filter QueryFilter) ([]domain.Query, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Query
	for _, q := range s.queries {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && (q.Priority == nil || *q.Priority != filter.Priority) {
			continue
		}
		if filter.Channel != "" && q.Channel != filter.Channel {
			continue
		}
		if filter.AssigneeID != "" && (q.AssigneeID == nil || *q.AssigneeID != filter.AssigneeID) {
			continue
		}
		matched = append(matched, *q.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if filter.PageSize <= 0 {
		return matched, total, nil
	}
	offset := filter.Offset()
	if offset >= total {
		return []domain.Query{}, total, nil
	}
	end := offset + filter.PageSize
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) Commit(_ context.Context, query *domain.Query, expectedVersion int64, activities ...*domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.queries[query.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion || stored.Status.IsTerminal() {
		return ErrVersionConflict
	}

	next := stored.Clone()
	next.Category = query.Category
	next.Priority = query.Priority
	next.Tags = query.Tags
	next.Status = query.Status
	next.AssigneeID = query.AssigneeID
	next.AssignedAt = query.AssignedAt
	next.SLAState = query.SLAState
	next.EscalationCount = query.EscalationCount
	next.LastEscalatedAt = query.LastEscalatedAt
	next.Version = expectedVersion + 1
	s.queries[query.ID] = next.Clone()

	for _, activity := range activities {
		if activity != nil {
			s.appendLocked(activity)
		}
	}
	query.Version = next.Version
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status domain.QueryStatus, expectedVersion int64, at time.Time) (*domain.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.Version != expectedVersion || q.Status.IsTerminal() {
		return nil, ErrVersionConflict
	}
	q.Status = status
	if status == domain.QueryStatusResolved {
		t := at
		q.ResolvedAt = &t
	}
	q.Version++
	return q.Clone(), nil
}

func (s *MemoryStore) RecordFirstResponse(_ context.Context, id string, at time.Time) (*domain.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.FirstResponseAt == nil {
		t := at
		q.FirstResponseAt = &t
	}
	q.Version++
	return q.Clone(), nil
}

// Agents returns an AgentRepository view of the store.
func (s *MemoryStore) Agents() AgentRepository {
	return memoryAgents{s}
}

// Activities returns an ActivityRepository view of the store.
func (s *MemoryStore) Activities() ActivityRepository {
	return memoryActivities{s}
}

func (s *MemoryStore) appendLocked(record *domain.ActivityRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Actor == "" {
		record.Actor = domain.ActorSystem
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.activities = append(s.activities, *record)
}

func (s *MemoryStore) loadLocked(agent *domain.Agent) domain.AgentLoad {
	load := domain.AgentLoad{Agent: *agent, ByPriority: map[domain.Priority]int{}}
	for _, q := range s.queries {
		if q.AssigneeID == nil || *q.AssigneeID != agent.ID || !q.Status.Counts() {
			continue
		}
		load.ActiveTickets++
		load.ByPriority[q.EffectivePriority()]++
	}
	return load
}

func (s *MemoryStore) sortedAgentsLocked() []*domain.Agent {
	agents := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

type memoryAgents struct{ s *MemoryStore }

func (m memoryAgents) Create(_ context.Context, agent *domain.Agent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = m.s.now()
	}
	copied := *agent
	copied.Capacity = make(map[domain.Priority]int, len(agent.Capacity))
	for p, v := range agent.Capacity {
		copied.Capacity[p] = v
	}
	m.s.agents[agent.ID] = &copied
	return nil
}

func (m memoryAgents) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	a, ok := m.s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m memoryAgents) ListLoadsByTeam(_ context.Context, team domain.Team) ([]domain.AgentLoad, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var result []domain.AgentLoad
	for _, a := range m.s.sortedAgentsLocked() {
		if a.Team == team && a.Active {
			result = append(result, m.s.loadLocked(a))
		}
	}
	return result, nil
}

func (m memoryAgents) ListLoads(_ context.Context) ([]domain.AgentLoad, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var result []domain.AgentLoad
	for _, a := range m.s.sortedAgentsLocked() {
		result = append(result, m.s.loadLocked(a))
	}
	return result, nil
}

func (m memoryAgents) Load(_ context.Context, agentID string) (*domain.AgentLoad, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	a, ok := m.s.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	load := m.s.loadLocked(a)
	return &load, nil
}

type memoryActivities struct{ s *MemoryStore }

func (m memoryActivities) Append(_ context.Context, record *domain.ActivityRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.appendLocked(record)
	return nil
}

func (m memoryActivities) ListByQuery(_ context.Context, queryID string) ([]domain.ActivityRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var result []domain.ActivityRecord
	for _, r := range m.s.activities {
		if r.QueryID == queryID {
			result = append(result, r)
		}
	}
	return result, nil
}

func sortByReceived(queries []domain.Query) {
	sort.Slice(queries, func(i, j int) bool {
		if !queries[i].ReceivedAt.Equal(queries[j].ReceivedAt) {
			return queries[i].ReceivedAt.Before(queries[j].ReceivedAt)
		}
		return queries[i].ID < queries[j].ID
	})
}
