// ABOUTME: Store interface and data types for hearth persistence
// ABOUTME: Defines Session, RuleSet, Message, Channel and Interaction plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint rejects an insert
var ErrDuplicate = errors.New("already exists")

// ErrDefaultConflict is returned when saving a second active default rule set
var ErrDefaultConflict = errors.New("another active rule set is already the default")

// Session is the per-user conversation state.
type Session struct {
	UserID            string
	CurrentTopic      *string
	Variables         map[string]string
	LastInteractionAt time.Time
	ActiveRuleSetID   *string
	SessionCount      int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	c := *s
	if s.CurrentTopic != nil {
		topic := *s.CurrentTopic
		c.CurrentTopic = &topic
	}
	if s.ActiveRuleSetID != nil {
		id := *s.ActiveRuleSetID
		c.ActiveRuleSetID = &id
	}
	c.Variables = make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		c.Variables[k] = v
	}
	return &c
}

// RuleSet is a named, prioritized trigger/response script (a "flow").
type RuleSet struct {
	ID         string
	Name       string
	SourceText string
	IsActive   bool
	IsDefault  bool
	Priority   int // lower is matched first
	UsageCount int64
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is one provider message, keyed by its provider-assigned id.
// The primary key doubles as the deduplication constraint.
type Message struct {
	ProviderMessageID string
	ChannelID         string
	UserID            string
	Direction         string
	Kind              string
	Content           string
	Status            string
	ProviderTimestamp time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Channel is a receiving line (provider phone number id) and its capacity limits.
type Channel struct {
	ID            string
	ChannelID     string
	DisplayNumber string
	DailyLimit    int
	RatePerSecond int
	IsActive      bool
	CreatedAt     time.Time
}

// InteractionKind classifies which tier of the pipeline produced a reply.
type InteractionKind string

const (
	InteractionRuleMatch       InteractionKind = "rule-match"
	InteractionFallbackKeyword InteractionKind = "fallback-keyword"
	InteractionFallbackGeneric InteractionKind = "fallback-generic"
	InteractionSessionRestart  InteractionKind = "session-restart"
	InteractionSessionClosed   InteractionKind = "session-closed"
	InteractionError           InteractionKind = "error"
)

// ValidInteractionKinds lists all valid interaction kinds.
var ValidInteractionKinds = []InteractionKind{
	InteractionRuleMatch,
	InteractionFallbackKeyword,
	InteractionFallbackGeneric,
	InteractionSessionRestart,
	InteractionSessionClosed,
	InteractionError,
}

// Interaction is an append-only audit row for one processed message.
type Interaction struct {
	ID         string // ULID
	UserID     string
	InputText  string
	OutputText string
	Kind       InteractionKind
	LatencyMs  int64
	Confidence float64
	RuleSetID  *string
	CreatedAt  time.Time
}

// InteractionFilter specifies filtering options for listing interactions.
type InteractionFilter struct {
	UserID *string
	Kind   *InteractionKind
	Since  *time.Time
	Limit  int // default 100, max 1000
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*Session, error)
	UpsertSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, userID string) error
	LastSessionCount(ctx context.Context, userID string) (int, error)
}

// RuleSetStore persists rule sets and their usage counters.
type RuleSetStore interface {
	ListActiveRuleSets(ctx context.Context) ([]*RuleSet, error)
	ListRuleSets(ctx context.Context) ([]*RuleSet, error)
	GetRuleSetByName(ctx context.Context, name string) (*RuleSet, error)
	SaveRuleSet(ctx context.Context, rs *RuleSet) error
	IncrementRuleSetUsage(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists the provider message ledger.
type MessageStore interface {
	MessageExists(ctx context.Context, providerMessageID string) (bool, error)
	CreateMessage(ctx context.Context, msg *Message) error
	UpdateMessageStatus(ctx context.Context, providerMessageID, status string, at time.Time) error
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}

// ChannelStore resolves and provisions receiving channels.
type ChannelStore interface {
	FindChannelByChannelID(ctx context.Context, channelID string) (*Channel, error)
	CreateDefaultChannel(ctx context.Context, ch *Channel) error
}

// InteractionStore appends and lists audit rows.
type InteractionStore interface {
	AppendInteraction(ctx context.Context, rec *Interaction) error
	ListInteractions(ctx context.Context, f InteractionFilter) ([]*Interaction, error)
}

// Store is the full storage collaborator used by the gateway.
type Store interface {
	SessionStore
	RuleSetStore
	MessageStore
	ChannelStore
	InteractionStore

	// Close releases any resources held by the store
	Close() error
}
