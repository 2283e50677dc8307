package eventbus

import (
	"testing"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(types.Event{State: types.EventProcessing, Message: "one"})
	b.Publish(types.Event{State: types.EventProcessing, Message: "two"})
	b.Publish(types.Event{State: types.EventComplete, Message: "three"})

	require.Equal(t, "one", (<-sub.C).Message)
	require.Equal(t, "two", (<-sub.C).Message)
	require.Equal(t, "three", (<-sub.C).Message)
}

func TestPublish_OldestDroppedOnOverflow(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < mailboxSize+10; i++ {
		b.Publish(types.Event{State: types.EventProcessing, Message: "filler"})
	}
	b.Publish(types.Event{State: types.EventComplete, Message: "last"})

	require.LessOrEqual(t, len(sub.C), mailboxSize)

	var lastSeen types.Event
	for len(sub.C) > 0 {
		lastSeen = <-sub.C
	}
	require.Equal(t, "last", lastSeen.Message)
}

func TestSubscribe_IndependentMailboxes(t *testing.T) {
	b := New()
	defer b.Close()

	subA := b.Subscribe()
	defer subA.Close()
	subB := b.Subscribe()
	defer subB.Close()

	b.Publish(types.Event{State: types.EventReady, Message: "hi"})

	require.Equal(t, "hi", (<-subA.C).Message)
	require.Equal(t, "hi", (<-subB.C).Message)
}

func TestLatest_RemembersLastPublished(t *testing.T) {
	b := New()
	defer b.Close()

	_, ok := b.Latest()
	require.False(t, ok)

	b.Publish(types.Event{State: types.EventError, Message: "boom"})

	ev, ok := b.Latest()
	require.True(t, ok)
	require.Equal(t, "boom", ev.Message)
}

func TestClose_ClosesSubscriberChannels(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Close()

	select {
	case _, open := <-sub.C:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected mailbox to be closed")
	}
}
