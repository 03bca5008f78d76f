// ABOUTME: In-memory fan-out of produced interactions for live monitoring
// ABOUTME: Subscribers follow one user or every user; slow subscribers drop events

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/hearth/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllUsers subscribes to interactions of every user.
	AllUsers = ""
)

// Broadcaster provides pub/sub for interaction records keyed by user ID.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Interaction // userID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.Interaction),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for interactions of userID, or of every
// user when userID is AllUsers. Returns a channel that receives records and a
// subscription ID for later unsubscription. The subscription is automatically
// cleaned up, and the channel closed, when ctx is cancelled. After Close the
// returned channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan *store.Interaction, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Interaction, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *store.Interaction)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends rec to every subscriber of rec.UserID and to every AllUsers
// subscriber. Records are shared, so subscribers must not modify them.
// Non-blocking: records are dropped for subscribers whose channels are full,
// so a stalled SSE client never delays a reply.
func (b *Broadcaster) Publish(rec *store.Interaction) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := []string{rec.UserID}
	if rec.UserID != AllUsers {
		keys = append(keys, AllUsers)
	}
	for _, key := range keys {
		for subID, ch := range b.subscribers[key] {
			select {
			case ch <- rec:
			default:
				b.logger.Debug("dropped interaction for slow subscriber", "sub_id", subID, "id", rec.ID)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Unknown user or
// subscription IDs are ignored, so it is safe to call more than once; the
// context watcher started by Subscribe relies on that.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions across all users.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.closed = true
	b.logger.Debug("broadcaster closed")
}
