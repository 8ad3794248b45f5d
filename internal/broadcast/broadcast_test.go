package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeThenNotifyDelivers(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe("jobs", "tok1", context.Background())
	require.NoError(t, err)

	hub.Notify("jobs", "insert", "42")

	select {
	case msg := <-sub.event:
		assert.Equal(t, "insert;42", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeDuplicateTokenRejected(t *testing.T) {
	hub := NewHub()
	_, err := hub.Subscribe("jobs", "tok1", context.Background())
	require.NoError(t, err)

	_, err = hub.Subscribe("jobs", "tok1", context.Background())
	assert.Error(t, err)
}

func TestNotifyToUnknownQueueIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Notify("nonexistent", "insert", "1")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe("jobs", "tok1", context.Background())
	require.NoError(t, err)

	hub.Unsubscribe("jobs", "tok1")
	hub.Notify("jobs", "insert", "42")

	select {
	case msg := <-sub.event:
		t.Fatalf("unexpected delivery after unsubscribe: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyDropsOnFullChannel(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe("jobs", "tok1", context.Background())
	require.NoError(t, err)

	for i := 0; i < cap(sub.event)+5; i++ {
		hub.Notify("jobs", "insert", "x")
	}
	assert.Len(t, sub.event, cap(sub.event))
}
