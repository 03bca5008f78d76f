// ABOUTME: Tests for the interaction Broadcaster fan-out
// ABOUTME: Covers per-user and all-user subscriptions, cancellation, slow subscribers and close

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth/internal/store"
)

func makeInteraction(id, userID string) *store.Interaction {
	return &store.Interaction{
		ID:         id,
		UserID:     userID,
		InputText:  "hola",
		OutputText: "Hi!",
		Kind:       store.InteractionRuleMatch,
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}
}

func receive(t *testing.T, ch <-chan *store.Interaction) *store.Interaction {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interaction")
		return nil
	}
}

func TestBroadcaster_UserSubscriberReceivesOwnInteractions(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "u1")
	b.Publish(makeInteraction("i-2", "u2"))
	b.Publish(makeInteraction("i-1", "u1"))

	assert.Equal(t, "i-1", receive(t, ch).ID)
	select {
	case rec := <-ch:
		t.Fatalf("unexpected interaction %s", rec.ID)
	default:
	}
}

func TestBroadcaster_AllUsersSubscriberReceivesEverything(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), AllUsers)
	b.Publish(makeInteraction("i-1", "u1"))
	b.Publish(makeInteraction("i-2", "u2"))

	assert.Equal(t, "i-1", receive(t, all).ID)
	assert.Equal(t, "i-2", receive(t, all).ID)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "u1")
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "channel closed after cancel")
}

func TestBroadcaster_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "u1")

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize + 10 {
			b.Publish(makeInteraction("i", "u1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_CloseClosesChannels(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(t.Context(), "u1")

	b.Close()
	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe(t.Context(), "u1")
	_, open = <-late
	assert.False(t, open, "subscriptions after close are already closed")
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		ctx, cancel := context.WithCancel(context.Background())
		b.Subscribe(ctx, "u1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish(makeInteraction("i", "u1"))
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
}

func TestBroadcaster_UnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "u1")
	b.Unsubscribe("u1", subID)
	b.Unsubscribe("u1", subID)
	b.Unsubscribe("nobody", "missing")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_SubscribeAfterCloseGetsClosedChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Close()

	ch, _ := b.Subscribe(t.Context(), "u1")
	_, open := <-ch
	assert.False(t, open)
}
