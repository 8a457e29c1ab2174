package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventQueryAssigned, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("first failed")
	})
	d.Subscribe(EventQueryAssigned, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventQueryEscalated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventQueryAssigned, QueryID: "q1"})

	assert.EqualError(t, err, "first failed")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatcherWildcardAndPanics(t *testing.T) {
	d := NewInMemoryDispatcher()
	var seen []EventType
	d.Subscribe(EventQueryEscalated, func(context.Context, Event) error {
		panic("boom")
	})
	d.SubscribeAll(func(_ context.Context, e Event) error {
		seen = append(seen, e.Type)
		return nil
	})

	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventQueryCreated}))
	err := d.Publish(context.Background(), Event{Type: EventQueryEscalated})

	assert.EqualError(t, err, "query_escalated handler panic: boom")
	assert.Equal(t, []EventType{EventQueryCreated, EventQueryEscalated}, seen)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "triage.events.query_escalated", Subject("triage.events", EventQueryEscalated))
	assert.Equal(t, "query_created", Subject("", EventQueryCreated))
}
