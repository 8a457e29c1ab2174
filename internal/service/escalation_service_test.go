package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/events"
	"github.com/supportdesk/triage-service/internal/observability"
	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

func TestSweepFlagsAtRiskThenEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addAgent("agent-b", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.SLAStateOnTrack, transitions[0].From)
	assert.Equal(t, domain.SLAStateAtRisk, transitions[0].To)
	assert.Equal(t, domain.PriorityMedium, transitions[0].NewPriority)
	assert.False(t, transitions[0].Reassigned)
	assert.Equal(t, "agent-a", *f.query("q1").AssigneeID)

	transitions, err = f.escalation.Sweep(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	tr := transitions[0]
	assert.Equal(t, domain.SLAStateAtRisk, tr.From)
	assert.Equal(t, domain.SLAStateEscalated, tr.To)
	assert.Equal(t, domain.PriorityMedium, tr.OldPriority)
	assert.Equal(t, domain.PriorityHigh, tr.NewPriority)
	assert.False(t, tr.Reassigned, "equal load keeps the current holder")

	stored := f.query("q1")
	assert.Equal(t, domain.PriorityHigh, *stored.Priority)
	assert.Equal(t, 1, stored.EscalationCount)
	assert.Equal(t, t0.Add(25*time.Hour), *stored.LastEscalatedAt)
	assert.Equal(t, []events.EventType{events.EventQueryAtRisk, events.EventQueryEscalated}, f.recorder.types())
}

func TestSweepIsIdempotentForSameInstant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("risky", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	require.NoError(t, f.addClassifiedQuery("late", domain.CategoryQuestion, domain.PriorityHigh, strPtr("agent-a")))
	now := t0.Add(20 * time.Hour)

	first, err := f.escalation.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := f.escalation.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSweepReassignsToLessLoadedAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addAgent("agent-b", domain.TeamSupport))
	require.NoError(t, f.seedLoad("agent-a", 3))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(25*time.Hour))

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Reassigned)
	assert.Equal(t, "agent-a", *transitions[0].OldAssignee)
	assert.Equal(t, "agent-b", *transitions[0].NewAssignee)
	assert.Equal(t, "agent-b", *f.query("q1").AssigneeID)

	records, err := f.store.Activities().ListByQuery(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.ActionEscalated, records[0].Action)
	assert.Equal(t, domain.ActionReassigned, records[1].Action)
	assert.Contains(t, f.recorder.types(), events.EventQueryReassigned)
}

func TestSweepAssignsWaitingQueryWhenCapacityFreesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryBugReport, domain.PriorityHigh))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryBugReport, domain.PriorityHigh, nil))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.False(t, transitions[0].Reassigned)
	assert.Nil(t, f.query("q1").AssigneeID)

	require.NoError(t, f.addAgent("eng-1", domain.TeamEngineering))
	transitions, err = f.escalation.Sweep(ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Reassigned)
	assert.Nil(t, transitions[0].OldAssignee)
	assert.Equal(t, domain.PriorityUrgent, transitions[0].NewPriority)

	stored := f.query("q1")
	assert.Equal(t, domain.QueryStatusAssigned, stored.Status)
	assert.Equal(t, "eng-1", *stored.AssigneeID)
	assert.NotNil(t, stored.AssignedAt)
}

func TestSweepCapsUrgentPriority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryComplaint, domain.PriorityUrgent))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryComplaint, domain.PriorityUrgent, strPtr("agent-a")))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(61*time.Minute))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Capped)
	assert.Equal(t, domain.PriorityUrgent, transitions[0].NewPriority)

	transitions, err = f.escalation.Sweep(ctx, t0.Add(122*time.Minute))
	require.NoError(t, err)
	require.Len(t, transitions, 1)

	stored := f.query("q1")
	assert.Equal(t, domain.PriorityUrgent, *stored.Priority)
	assert.Equal(t, 2, stored.EscalationCount)
}

func TestSweepIgnoresTerminalAndAnsweredQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("resolved", domain.CategoryQuestion, domain.PriorityLow, strPtr("agent-a")))
	require.NoError(t, f.addClassifiedQuery("answered", domain.CategoryQuestion, domain.PriorityLow, strPtr("agent-a")))
	require.NoError(t, f.setStatus("resolved", domain.QueryStatusResolved, t0.Add(time.Hour)))
	_, err := f.store.RecordFirstResponse(ctx, "answered", t0.Add(time.Hour))
	require.NoError(t, err)

	transitions, err := f.escalation.Sweep(ctx, t0.Add(30*24*time.Hour))

	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestSweepBumpsUnclassifiedWithoutRouting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addQuery("q1", t0))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(24*time.Hour))

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.False(t, transitions[0].Reassigned)
	stored := f.query("q1")
	assert.Nil(t, stored.AssigneeID)
	assert.Equal(t, domain.PriorityHigh, *stored.Priority)
	assert.Nil(t, stored.Category)
}

func TestSweepSkipsConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium), withConflictingCommits())
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, nil))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(25*time.Hour))

	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.EqualValues(t, 1, f.metrics.Snapshot().Decisions[observability.DecisionConflict])
}

func TestAtRiskReportsWindowClosestToBreachFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addClassifiedQuery("medium", domain.CategoryQuestion, domain.PriorityMedium, nil))
	require.NoError(t, f.addClassifiedQuery("low", domain.CategoryQuestion, domain.PriorityLow, nil))
	require.NoError(t, f.store.Create(ctx, &domain.Query{
		ID:         "high",
		Channel:    domain.ChannelChat,
		Content:    "x",
		Priority:   ptrPriority(domain.PriorityHigh),
		ReceivedAt: t0.Add(16*time.Hour + 30*time.Minute),
	}))
	now := t0.Add(20 * time.Hour)

	entries, err := f.escalation.AtRisk(ctx, now)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "high", entries[0].Query.ID)
	assert.Equal(t, 30*time.Minute, entries[0].Remaining)
	assert.Equal(t, "medium", entries[1].Query.ID)

	transitions, err := f.escalation.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
	after, err := f.escalation.AtRisk(ctx, now)
	require.NoError(t, err)
	assert.Len(t, after, 2, "reporting does not depend on the stored flag")
}

func TestEvaluateSLA(t *testing.T) {
	sla := config.DefaultPolicy().SLA
	medium := domain.PriorityMedium
	base := domain.Query{Priority: &medium, Status: domain.QueryStatusAssigned, ReceivedAt: t0, SLAState: domain.SLAStateOnTrack}

	cases := []struct {
		name    string
		mutate  func(q *domain.Query)
		elapsed time.Duration
		want    Verdict
	}{
		{"fresh", nil, time.Hour, VerdictNone},
		{"at risk threshold", nil, 19*time.Hour + 12*time.Minute, VerdictAtRisk},
		{"already at risk", func(q *domain.Query) { q.SLAState = domain.SLAStateAtRisk }, 20 * time.Hour, VerdictNone},
		{"breached", nil, 24 * time.Hour, VerdictEscalate},
		{"escalated window not at risk again", func(q *domain.Query) {
			q.SLAState = domain.SLAStateEscalated
			q.LastEscalatedAt = timePtr(t0)
		}, 20 * time.Hour, VerdictNone},
		{"closed", func(q *domain.Query) { q.Status = domain.QueryStatusClosed }, 100 * time.Hour, VerdictNone},
		{"clock behind receipt", nil, -time.Hour, VerdictNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := *base.Clone()
			if tc.mutate != nil {
				tc.mutate(&q)
			}
			got, _ := EvaluateSLA(&q, t0.Add(tc.elapsed), sla)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSweepPriorityNeverDecreases(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
		require.NoError(rt, f.addAgent("agent-a", domain.TeamSupport))
		require.NoError(rt, f.addAgent("agent-b", domain.TeamSupport))
		start := rapid.SampledFrom(domain.Priorities).Draw(rt, "priority")
		require.NoError(rt, f.addClassifiedQuery("q1", domain.CategoryQuestion, start, strPtr("agent-a")))

		steps := rapid.SliceOfN(rapid.IntRange(0, 48*60), 1, 15).Draw(rt, "steps")
		now := t0
		rank := start.Rank()
		for _, minutes := range steps {
			now = now.Add(time.Duration(minutes) * time.Minute)
			_, err := f.escalation.Sweep(ctx, now)
			require.NoError(rt, err)

			current := f.query("q1").EffectivePriority().Rank()
			require.GreaterOrEqual(rt, current, rank)
			rank = current

			again, err := f.escalation.Sweep(ctx, now)
			require.NoError(rt, err)
			require.Empty(rt, again)
		}
	})
}

func TestSweepReassignmentKeepsWorkInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addAgent("agent-b", domain.TeamSupport))
	require.NoError(t, f.seedLoad("agent-a", 3))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	require.NoError(t, f.setStatus("q1", domain.QueryStatusInProgress, t0))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(25*time.Hour))

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Reassigned)
	stored := f.query("q1")
	assert.Equal(t, "agent-b", *stored.AssigneeID)
	assert.Equal(t, domain.QueryStatusInProgress, stored.Status)
}

func TestSweepKeepsHolderOnEqualLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addAgent("agent-b", domain.TeamSupport))
	require.NoError(t, f.seedLoad("agent-a", 1))
	require.NoError(t, f.seedLoad("agent-b", 1))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-b")))

	transitions, err := f.escalation.Sweep(ctx, t0.Add(25*time.Hour))

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.False(t, transitions[0].Reassigned)
	assert.Equal(t, "agent-b", *f.query("q1").AssigneeID)
	assert.NotContains(t, f.recorder.types(), events.EventQueryReassigned)
}

func TestSweepEscalatesStuckQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium), withStuckAfter(domain.PriorityMedium, 6*time.Hour))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	require.NoError(t, f.addClassifiedQuery("answered", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	_, err := f.store.RecordFirstResponse(ctx, "answered", t0.Add(time.Hour))
	require.NoError(t, err)
	now := t0.Add(7 * time.Hour)

	transitions, err := f.escalation.Sweep(ctx, now)

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	tr := transitions[0]
	assert.Equal(t, "q1", tr.QueryID)
	assert.Equal(t, EscalationStuck, tr.Reason)
	assert.Equal(t, domain.PriorityHigh, tr.NewPriority)
	assert.Equal(t, 7*time.Hour, tr.Elapsed)

	records, err := f.store.Activities().ListByQuery(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, EscalationStuck, records[0].Detail["reason"])
	assert.Equal(t, "6h0m0s", records[0].Detail["deadline"])

	again, err := f.escalation.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEvaluateStuck(t *testing.T) {
	sla := config.DefaultPolicy().SLA
	high := domain.PriorityHigh
	base := domain.Query{Priority: &high, Status: domain.QueryStatusAssigned, ReceivedAt: t0, AssignedAt: timePtr(t0.Add(time.Hour))}

	cases := []struct {
		name   string
		mutate func(q *domain.Query)
		at     time.Duration
		want   bool
	}{
		{"idle since assignment", nil, 9 * time.Hour, true},
		{"recently assigned", nil, 8 * time.Hour, false},
		{"escalation resets", func(q *domain.Query) { q.LastEscalatedAt = timePtr(t0.Add(5 * time.Hour)) }, 9 * time.Hour, false},
		{"answered", func(q *domain.Query) { q.FirstResponseAt = timePtr(t0.Add(2 * time.Hour)) }, 20 * time.Hour, false},
		{"resolved", func(q *domain.Query) { q.Status = domain.QueryStatusResolved }, 20 * time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := *base.Clone()
			if tc.mutate != nil {
				tc.mutate(&q)
			}
			got, _ := EvaluateStuck(&q, t0.Add(tc.at), sla)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStaleReportsQueriesHalfwayToStuck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addClassifiedQuery("medium", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	require.NoError(t, f.addClassifiedQuery("low", domain.CategoryQuestion, domain.PriorityLow, nil))
	require.NoError(t, f.addClassifiedQuery("answered", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	_, err := f.store.RecordFirstResponse(ctx, "answered", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, &domain.Query{
		ID:         "high",
		Channel:    domain.ChannelChat,
		Content:    "x",
		Priority:   ptrPriority(domain.PriorityHigh),
		ReceivedAt: t0.Add(8 * time.Hour),
	}))
	require.NoError(t, f.store.Create(ctx, &domain.Query{
		ID:         "picked-up",
		Channel:    domain.ChannelChat,
		Content:    "x",
		Priority:   ptrPriority(domain.PriorityMedium),
		Status:     domain.QueryStatusAssigned,
		AssigneeID: strPtr("agent-a"),
		AssignedAt: timePtr(t0.Add(12 * time.Hour)),
		ReceivedAt: t0,
	}))

	entries, err := f.escalation.Stale(ctx, t0.Add(13*time.Hour))

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "high", entries[0].Query.ID)
	assert.Equal(t, 5*time.Hour, entries[0].Idle)
	assert.Equal(t, 3*time.Hour, entries[0].Remaining)
	assert.Equal(t, "medium", entries[1].Query.ID)
	assert.Equal(t, 24*time.Hour, entries[1].Threshold)
	assert.Empty(t, f.recorder.types(), "the report writes nothing")
}

func TestEscalateHandsQueryToNamedAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addAgent("lead-1", domain.TeamEngineering))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityMedium, strPtr("agent-a")))
	require.NoError(t, f.setStatus("q1", domain.QueryStatusInProgress, t0))
	f.clock.Set(t0.Add(2 * time.Hour))

	tr, err := f.escalation.Escalate(ctx, "q1", EscalateInput{Reason: "customer is a key account", AgentID: "lead-1", Actor: "supervisor"})

	require.NoError(t, err)
	assert.Equal(t, EscalationManual, tr.Reason)
	assert.Equal(t, domain.PriorityHigh, tr.NewPriority)
	assert.True(t, tr.Reassigned)
	assert.Equal(t, "lead-1", *tr.NewAssignee)

	stored := f.query("q1")
	assert.Equal(t, domain.QueryStatusInProgress, stored.Status)
	assert.Equal(t, domain.SLAStateEscalated, stored.SLAState)
	assert.Equal(t, t0.Add(2*time.Hour), *stored.LastEscalatedAt)

	records, err := f.store.Activities().ListByQuery(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "supervisor", records[0].Actor)
	assert.Equal(t, "customer is a key account", records[0].Detail["note"])
	assert.Equal(t, domain.ActionReassigned, records[1].Action)
	assert.Equal(t, domain.TeamEngineering, records[1].Detail["team"])
}

func TestEscalateWithoutTargetRebalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.addAgent("agent-a", domain.TeamSupport))
	require.NoError(t, f.addClassifiedQuery("q1", domain.CategoryQuestion, domain.PriorityLow, nil))

	tr, err := f.escalation.Escalate(ctx, "q1", EscalateInput{})

	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, tr.NewPriority)
	assert.True(t, tr.Reassigned)
	stored := f.query("q1")
	assert.Equal(t, "agent-a", *stored.AssigneeID)
	assert.Equal(t, domain.QueryStatusAssigned, stored.Status)
}

func TestEscalateRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(classifyAs(domain.CategoryQuestion, domain.PriorityMedium))
	require.NoError(t, f.store.Agents().Create(ctx, &domain.Agent{ID: "away", Team: domain.TeamSupport}))
	require.NoError(t, f.addClassifiedQuery("open", domain.CategoryQuestion, domain.PriorityLow, nil))
	require.NoError(t, f.addClassifiedQuery("closed", domain.CategoryQuestion, domain.PriorityLow, nil))
	require.NoError(t, f.setStatus("closed", domain.QueryStatusClosed, t0))

	cases := map[string]struct {
		id   string
		in   EscalateInput
		code string
	}{
		"closed query":   {"closed", EscalateInput{}, "CONFLICT"},
		"missing query":  {"missing", EscalateInput{}, "NOT_FOUND"},
		"unknown agent":  {"open", EscalateInput{AgentID: "ghost"}, "NOT_FOUND"},
		"inactive agent": {"open", EscalateInput{AgentID: "away"}, "VALIDATION_FAILED"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.escalation.Escalate(ctx, tc.id, tc.in)
			assert.Equal(t, tc.code, apperrors.ToDomainError(err).Code)
		})
	}
	assert.Equal(t, domain.PriorityLow, *f.query("open").Priority)
}

func ptrPriority(p domain.Priority) *domain.Priority {
	return &p
}
