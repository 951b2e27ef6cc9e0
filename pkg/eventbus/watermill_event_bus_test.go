package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-menard/storyflow/pkg/channels/gochannel"
	"github.com/michael-menard/storyflow/pkg/events"
	"github.com/michael-menard/storyflow/pkg/models"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishAndReceivePhaseEntered(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.PhaseEntered, 1)
	err := bus.Handle(events.PhaseEnteredEvent, func(_ context.Context, event any) error {
		entered, ok := event.(*events.PhaseEntered)
		require.True(t, ok)
		received <- entered

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(t.Context()))

	entered := events.PhaseEntered{
		BaseEvent: events.NewBaseEvent(events.PhaseEnteredEvent, "GAL-101"),
		Phase:     models.PhaseImplementing,
		From:      models.PhasePlanning,
	}
	require.NoError(t, bus.Publish(t.Context(), "GAL-101", entered))

	select {
	case got := <-received:
		assert.Equal(t, "GAL-101", got.StoryID)
		assert.Equal(t, models.PhaseImplementing, got.Phase)
		assert.Equal(t, models.PhasePlanning, got.From)
	case <-time.After(5 * time.Second):
		t.Fatal("phase entered event not received")
	}
}

func TestPublishAndReceiveGateDecided(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.GateDecided, 1)
	err := bus.Handle(events.GateDecidedEvent, func(_ context.Context, event any) error {
		decided, ok := event.(*events.GateDecided)
		require.True(t, ok)
		received <- decided

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(t.Context()))

	decided := events.GateDecided{
		BaseEvent: events.NewBaseEvent(events.GateDecidedEvent, "WISH-2045"),
		Gate:      models.GateQAGate,
		Decision:  models.GateWaived,
		Waived:    true,
		Actor:     "lead@example.com",
	}
	require.NoError(t, bus.Publish(t.Context(), "WISH-2045", decided))

	select {
	case got := <-received:
		assert.Equal(t, models.GateQAGate, got.Gate)
		assert.Equal(t, models.GateWaived, got.Decision)
		assert.True(t, got.Waived)
	case <-time.After(5 * time.Second):
		t.Fatal("gate decided event not received")
	}
}

func TestEventsWithoutHandlerAreAcked(t *testing.T) {
	bus := newTestBus(t)
	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler registered for checkpoint events; publish must not error
	// and the subscription must keep draining.
	saved := events.CheckpointSaved{
		BaseEvent: events.NewBaseEvent(events.CheckpointSavedEvent, "GAL-101"),
		Phase:     models.PhaseImplementing,
		Version:   3,
	}
	assert.NoError(t, bus.Publish(t.Context(), "GAL-101", saved))
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
