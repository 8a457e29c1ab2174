package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/triage-service/internal/domain"
)

func TestMemoryStoreListUnassignedOrdersByReceivedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, &domain.Query{ID: "late", ReceivedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "early", ReceivedAt: base}))
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "middle", ReceivedAt: base.Add(time.Hour)}))

	got, err := store.ListUnassigned(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "middle", got[1].ID)
}

func TestMemoryStoreCommitChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q1"}))

	first, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)
	second, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)

	first.SLAState = domain.SLAStateAtRisk
	require.NoError(t, store.Commit(ctx, first, first.Version, &domain.ActivityRecord{QueryID: "q1", Action: domain.ActionAtRisk}))
	assert.EqualValues(t, 1, first.Version)

	second.SLAState = domain.SLAStateEscalated
	err = store.Commit(ctx, second, second.Version, nil)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStateAtRisk, stored.SLAState)

	records, err := store.Activities().ListByQuery(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActorSystem, records[0].Actor)
}

func TestMemoryStoreCommitRejectsTerminalQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q1"}))

	q, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)
	resolved, err := store.UpdateStatus(ctx, "q1", domain.QueryStatusResolved, q.Version, time.Now())
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)

	err = store.Commit(ctx, q, resolved.Version, nil)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStoreAgentLoadCountsActiveStatusesOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agents := store.Agents()
	require.NoError(t, agents.Create(ctx, &domain.Agent{ID: "a1", Team: domain.TeamSupport, Active: true}))
	require.NoError(t, agents.Create(ctx, &domain.Agent{ID: "a2", Team: domain.TeamSupport, Active: false}))

	assignee := "a1"
	high := domain.PriorityHigh
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q1", Status: domain.QueryStatusAssigned, AssigneeID: &assignee, Priority: &high}))
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q2", Status: domain.QueryStatusInProgress, AssigneeID: &assignee}))
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q3", Status: domain.QueryStatusResolved, AssigneeID: &assignee}))

	loads, err := agents.ListLoadsByTeam(ctx, domain.TeamSupport)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, 2, loads[0].ActiveTickets)
	assert.Equal(t, 1, loads[0].ByPriority[domain.PriorityHigh])
	assert.Equal(t, 1, loads[0].ByPriority[domain.PriorityMedium])

	_, err = agents.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListOpenBreaksTiesOnID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"q3", "q1", "q2"} {
		require.NoError(t, store.Create(ctx, &domain.Query{ID: id, ReceivedAt: base}))
	}

	got, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"q1", "q2", "q3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMemoryStoreUpdateStatusChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "q1"}))
	stale, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)

	closed, err := store.UpdateStatus(ctx, "q1", domain.QueryStatusClosed, stale.Version, time.Now())
	require.NoError(t, err)
	assert.Equal(t, stale.Version+1, closed.Version)

	_, err = store.UpdateStatus(ctx, "q1", domain.QueryStatusResolved, stale.Version, time.Now())
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, err = store.UpdateStatus(ctx, "q1", domain.QueryStatusResolved, closed.Version, time.Now())
	assert.ErrorIs(t, err, ErrVersionConflict, "terminal queries stay terminal")
	_, err = store.UpdateStatus(ctx, "missing", domain.QueryStatusResolved, 0, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := store.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusClosed, stored.Status)
	assert.Nil(t, stored.ResolvedAt)
}

func TestMemoryStoreListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	high := domain.PriorityHigh
	agent := "a1"
	for i, id := range []string{"q1", "q2", "q3", "q4"} {
		q := &domain.Query{ID: id, Channel: domain.ChannelEmail, ReceivedAt: base.Add(time.Duration(i) * time.Hour)}
		if i%2 == 0 {
			q.Priority = &high
			q.Status = domain.QueryStatusAssigned
			q.AssigneeID = &agent
		}
		require.NoError(t, store.Create(ctx, q))
	}
	require.NoError(t, store.Create(ctx, &domain.Query{ID: "chat", Channel: domain.ChannelChat, ReceivedAt: base}))

	page, total, err := store.List(ctx, QueryFilter{Channel: domain.ChannelEmail, Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 3)
	assert.Equal(t, "q4", page[0].ID, "newest first")

	page, total, err = store.List(ctx, QueryFilter{Channel: domain.ChannelEmail, Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 1)
	assert.Equal(t, "q1", page[0].ID)

	page, total, err = store.List(ctx, QueryFilter{Priority: domain.PriorityHigh, AssigneeID: "a1", Status: domain.QueryStatusAssigned})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "q3", page[0].ID)
	assert.Equal(t, "q1", page[1].ID)

	page, total, err = store.List(ctx, QueryFilter{Page: 9, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}
