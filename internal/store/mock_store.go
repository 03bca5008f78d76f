// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject per-operation failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu             sync.RWMutex
	sessions       map[string]*Session  // keyed by user ID
	sessionHistory map[string]int       // keyed by user ID -> last session count
	ruleSets       map[string]*RuleSet  // keyed by name
	messages       map[string]*Message  // keyed by provider message ID
	channels       map[string]*Channel  // keyed by provider channel ID
	interactions   []*Interaction       // append order
	failures       map[string]error     // keyed by method name
	calls          map[string]int       // keyed by method name
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:       make(map[string]*Session),
		sessionHistory: make(map[string]int),
		ruleSets:       make(map[string]*RuleSet),
		messages:       make(map[string]*Message),
		channels:       make(map[string]*Channel),
		failures:       make(map[string]error),
		calls:          make(map[string]int),
	}
}

// FailOn makes the named method (e.g. "UpsertSession") return err until cleared with a nil err.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times the named method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// enter records a call and returns the injected failure, if any. Must be called with mu held.
func (m *MockStore) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

// GetSession retrieves a session by user ID.
func (m *MockStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSession"); err != nil {
		return nil, err
	}

	sess, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// UpsertSession stores a session, never moving its counter or timestamp backward.
func (m *MockStore) UpsertSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertSession"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.SessionCount < 1 {
		sess.SessionCount = 1
	}

	c := sess.Clone()
	if existing, ok := m.sessions[sess.UserID]; ok {
		if existing.SessionCount > c.SessionCount {
			c.SessionCount = existing.SessionCount
		}
		if existing.LastInteractionAt.After(c.LastInteractionAt) {
			c.LastInteractionAt = existing.LastInteractionAt
		}
		c.CreatedAt = existing.CreatedAt
	}
	m.sessions[sess.UserID] = c
	return nil
}

// DeleteSession removes a session and remembers its counter.
func (m *MockStore) DeleteSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteSession"); err != nil {
		return err
	}

	sess, ok := m.sessions[userID]
	if !ok {
		return ErrNotFound
	}
	if sess.SessionCount > m.sessionHistory[userID] {
		m.sessionHistory[userID] = sess.SessionCount
	}
	delete(m.sessions, userID)
	return nil
}

// LastSessionCount returns the highest known counter for a user, or 0.
func (m *MockStore) LastSessionCount(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LastSessionCount"); err != nil {
		return 0, err
	}

	count := m.sessionHistory[userID]
	if sess, ok := m.sessions[userID]; ok && sess.SessionCount > count {
		count = sess.SessionCount
	}
	return count, nil
}

func (m *MockStore) sortedRuleSets(activeOnly bool) []*RuleSet {
	sets := make([]*RuleSet, 0, len(m.ruleSets))
	for _, rs := range m.ruleSets {
		if activeOnly && !rs.IsActive {
			continue
		}
		c := *rs
		sets = append(sets, &c)
	}
	sort.SliceStable(sets, func(i, j int) bool {
		if sets[i].Priority != sets[j].Priority {
			return sets[i].Priority < sets[j].Priority
		}
		if sets[i].IsDefault != sets[j].IsDefault {
			return sets[i].IsDefault
		}
		return sets[i].Name < sets[j].Name
	})
	return sets
}

// ListActiveRuleSets returns active rule sets ordered by priority.
func (m *MockStore) ListActiveRuleSets(ctx context.Context) ([]*RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListActiveRuleSets"); err != nil {
		return nil, err
	}
	return m.sortedRuleSets(true), nil
}

// ListRuleSets returns all rule sets ordered by priority.
func (m *MockStore) ListRuleSets(ctx context.Context) ([]*RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListRuleSets"); err != nil {
		return nil, err
	}
	return m.sortedRuleSets(false), nil
}

// GetRuleSetByName retrieves a rule set by name.
func (m *MockStore) GetRuleSetByName(ctx context.Context, name string) (*RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRuleSetByName"); err != nil {
		return nil, err
	}

	rs, ok := m.ruleSets[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rs
	return &c, nil
}

// SaveRuleSet upserts a rule set by name, preserving usage counters.
func (m *MockStore) SaveRuleSet(ctx context.Context, rs *RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveRuleSet"); err != nil {
		return err
	}

	if rs.IsActive && rs.IsDefault {
		for name, other := range m.ruleSets {
			if name != rs.Name && other.IsActive && other.IsDefault {
				return ErrDefaultConflict
			}
		}
	}

	now := time.Now().UTC()
	if existing, ok := m.ruleSets[rs.Name]; ok {
		rs.ID = existing.ID
		rs.CreatedAt = existing.CreatedAt
		rs.UsageCount = existing.UsageCount
		rs.LastUsedAt = existing.LastUsedAt
	} else {
		if rs.ID == "" {
			rs.ID = uuid.New().String()
		}
		if rs.CreatedAt.IsZero() {
			rs.CreatedAt = now
		}
	}
	rs.UpdatedAt = now

	c := *rs
	m.ruleSets[rs.Name] = &c
	return nil
}

// IncrementRuleSetUsage bumps the usage counter of the rule set with the given ID.
func (m *MockStore) IncrementRuleSetUsage(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("IncrementRuleSetUsage"); err != nil {
		return err
	}

	for _, rs := range m.ruleSets {
		if rs.ID == id {
			rs.UsageCount++
			t := at
			rs.LastUsedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

// MessageExists reports whether the provider message ID was recorded.
func (m *MockStore) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MessageExists"); err != nil {
		return false, err
	}
	_, ok := m.messages[providerMessageID]
	return ok, nil
}

// CreateMessage records a message, enforcing provider ID uniqueness.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateMessage"); err != nil {
		return err
	}

	if _, ok := m.messages[msg.ProviderMessageID]; ok {
		return ErrDuplicate
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	if msg.Status == "" {
		msg.Status = StatusReceived
	}
	c := *msg
	m.messages[msg.ProviderMessageID] = &c
	return nil
}

// UpdateMessageStatus sets the status of a recorded message.
func (m *MockStore) UpdateMessageStatus(ctx context.Context, providerMessageID, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateMessageStatus"); err != nil {
		return err
	}

	msg, ok := m.messages[providerMessageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	msg.UpdatedAt = at
	return nil
}

// PruneMessages removes messages created before the cutoff.
func (m *MockStore) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PruneMessages"); err != nil {
		return 0, err
	}

	var n int64
	for id, msg := range m.messages {
		if msg.CreatedAt.Before(before) {
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

// GetMessage returns a copy of a recorded message (test helper).
func (m *MockStore) GetMessage(providerMessageID string) (*Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[providerMessageID]
	if !ok {
		return nil, false
	}
	c := *msg
	return &c, true
}

// FindChannelByChannelID retrieves a channel by provider channel ID.
func (m *MockStore) FindChannelByChannelID(ctx context.Context, channelID string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindChannelByChannelID"); err != nil {
		return nil, err
	}

	ch, ok := m.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *ch
	return &c, nil
}

// CreateDefaultChannel provisions a channel, enforcing channel ID uniqueness.
func (m *MockStore) CreateDefaultChannel(ctx context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateDefaultChannel"); err != nil {
		return err
	}

	if _, ok := m.channels[ch.ChannelID]; ok {
		return ErrDuplicate
	}
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	c := *ch
	m.channels[ch.ChannelID] = &c
	return nil
}

// AppendInteraction appends an audit row.
func (m *MockStore) AppendInteraction(ctx context.Context, rec *Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AppendInteraction"); err != nil {
		return err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	c := *rec
	m.interactions = append(m.interactions, &c)
	return nil
}

// ListInteractions returns interactions matching the filter in append order.
func (m *MockStore) ListInteractions(ctx context.Context, f InteractionFilter) ([]*Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListInteractions"); err != nil {
		return nil, err
	}

	limit := normalizeInteractionLimit(f.Limit)
	out := []*Interaction{}
	for _, rec := range m.interactions {
		if f.UserID != nil && rec.UserID != *f.UserID {
			continue
		}
		if f.Kind != nil && rec.Kind != *f.Kind {
			continue
		}
		if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
			continue
		}
		c := *rec
		out = append(out, &c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
