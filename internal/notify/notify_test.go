package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/log"
)

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(log.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Success("Automation completed!")
	bus.Error("not connected: %s", "run")

	// Delivery order across publishes is not guaranteed.
	got := map[Level]Notification{}
	for range 2 {
		n := receive(t, ch)
		got[n.Level] = n
	}

	require.Contains(t, got, LevelSuccess)
	assert.Equal(t, "Automation completed!", got[LevelSuccess].Message)
	assert.False(t, got[LevelSuccess].Time.IsZero())

	require.Contains(t, got, LevelError)
	assert.Equal(t, "not connected: run", got[LevelError].Message)
}

func TestCloseEndsSubscription(t *testing.T) {
	bus := NewBus(log.Discard())
	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestString(t *testing.T) {
	n := Notification{Level: LevelWarning, Message: "careful"}
	assert.Equal(t, "[warning] careful", n.String())
}
