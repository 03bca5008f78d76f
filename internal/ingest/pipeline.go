// ABOUTME: Idempotent ingestion of webhook payloads into the conversation engine
// ABOUTME: Validates, deduplicates, normalizes, resolves channels and delivers replies

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/hearth/internal/conversation"
	"github.com/2389/hearth/internal/dedupe"
	"github.com/2389/hearth/internal/delivery"
	"github.com/2389/hearth/internal/store"
)

// Store is the storage the pipeline needs.
type Store interface {
	store.MessageStore
	store.ChannelStore
}

// Conversation answers one normalized message.
type Conversation interface {
	Process(ctx context.Context, req conversation.Request) *conversation.Reply
}

// Metrics counts ingestion outcomes.
type Metrics interface {
	Duplicate()
	DeliveryFailure()
}

// Deps bundles the pipeline collaborators. Cache and Metrics may be nil.
type Deps struct {
	Store        Store
	Cache        *dedupe.Cache
	Conversation Conversation
	Sender       delivery.Sender
	Metrics      Metrics
}

// ChannelDefaults are the limits given to auto-provisioned channels.
type ChannelDefaults struct {
	DailyLimit    int
	RatePerSecond int
}

// Options tune the pipeline. Zero values fall back to defaults.
type Options struct {
	ObjectTypes     []string // default [whatsapp_business_account]
	StorageTimeout  time.Duration
	DeliveryTimeout time.Duration
	Channels        ChannelDefaults
}

// Pipeline turns webhook payloads into conversation turns.
type Pipeline struct {
	deps     Deps
	objects  []string
	storeTO  time.Duration
	sendTO   time.Duration
	channels ChannelDefaults
	known    sync.Map // provider channel id -> struct{}
	resolve  singleflight.Group
	logger   *slog.Logger
}

type noopMetrics struct{}

func (noopMetrics) Duplicate()       {}
func (noopMetrics) DeliveryFailure() {}

// New creates a pipeline.
func New(deps Deps, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if len(opts.ObjectTypes) == 0 {
		opts.ObjectTypes = []string{DefaultObjectType}
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 3 * time.Second
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	return &Pipeline{
		deps:     deps,
		objects:  opts.ObjectTypes,
		storeTO:  opts.StorageTimeout,
		sendTO:   opts.DeliveryTimeout,
		channels: opts.Channels,
		logger:   logger.With("component", "ingest"),
	}
}

// HandleRaw decodes and handles a raw webhook body. Undecodable bodies are rejected.
func (p *Pipeline) HandleRaw(ctx context.Context, raw []byte) bool {
	payload, err := DecodePayload(raw)
	if err != nil {
		p.logger.Warn("rejecting webhook body", "error", err)
		return false
	}
	return p.Handle(ctx, payload)
}

// Handle processes a payload. It returns false when the object type is not
// accepted or there are no entries, and true otherwise, whether or not any
// reply was produced. Each entry and change is isolated: a bad one is logged
// and the rest still run.
func (p *Pipeline) Handle(ctx context.Context, payload *Payload) bool {
	if payload == nil {
		return false
	}
	if !slices.Contains(p.objects, payload.Object) {
		p.logger.Warn("rejecting payload with unknown object type", "object", payload.Object)
		return false
	}
	if len(payload.Entry) == 0 {
		p.logger.Warn("rejecting payload without entries")
		return false
	}

	// A dropped webhook connection must not abort a half-processed message.
	ctx = context.WithoutCancel(ctx)

	for i := range payload.Entry {
		entry := &payload.Entry[i]
		p.isolate("entry", []any{"entry_id", entry.ID}, func() error {
			return p.handleEntry(ctx, entry)
		})
	}
	return true
}

// isolate runs fn, logging its error or panic instead of propagating it.
func (p *Pipeline) isolate(what string, attrs []any, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while handling "+what, append(attrs, "panic", r)...)
		}
	}()

	err := fn()
	var verr *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		p.logger.Warn("skipping invalid "+what, append(attrs, "error", err)...)
	default:
		p.logger.Error("failed to handle "+what, append(attrs, "error", err)...)
	}
}

func (p *Pipeline) handleEntry(ctx context.Context, entry *Entry) error {
	if len(entry.Changes) == 0 {
		return invalid("entry.changes", "empty")
	}
	for i := range entry.Changes {
		change := &entry.Changes[i]
		p.isolate("change", []any{"entry_id", entry.ID, "field", change.Field}, func() error {
			return p.handleChange(ctx, change)
		})
	}
	return nil
}

func (p *Pipeline) handleChange(ctx context.Context, change *Change) error {
	switch change.Field {
	case FieldMessages:
		return p.handleMessagesChange(ctx, &change.Value)
	case FieldTemplateStatus:
		p.logger.Info("template status update",
			"template_id", change.Value.MessageTemplateID.String(),
			"template", change.Value.MessageTemplateName,
			"event", change.Value.Event,
			"reason", change.Value.Reason,
		)
		return nil
	default:
		p.logger.Debug("ignoring change", "field", change.Field)
		return nil
	}
}

func (p *Pipeline) handleMessagesChange(ctx context.Context, v *Value) error {
	if len(v.Messages) == 0 && len(v.Statuses) == 0 {
		return invalid("value", "no messages or statuses")
	}

	if len(v.Messages) > 0 {
		if strings.TrimSpace(v.Metadata.PhoneNumberID) == "" {
			return invalid("value.metadata.phone_number_id", "missing")
		}
		p.resolveChannel(ctx, v.Metadata)
	}

	for i := range v.Messages {
		msg := &v.Messages[i]
		p.isolate("message", []any{"message_id", msg.ID}, func() error {
			return p.handleMessage(ctx, v.Metadata.PhoneNumberID, msg)
		})
	}
	for i := range v.Statuses {
		st := &v.Statuses[i]
		p.isolate("status", []any{"message_id", st.ID}, func() error {
			return p.handleStatus(ctx, st)
		})
	}
	return nil
}

func (p *Pipeline) handleMessage(ctx context.Context, channelID string, msg *InboundMessage) error {
	if strings.TrimSpace(msg.ID) == "" {
		return invalid("message.id", "missing")
	}
	if strings.TrimSpace(msg.From) == "" {
		return invalid("message.from", "missing")
	}

	if msg.Type == "reaction" {
		var target, emoji string
		if msg.Reaction != nil {
			target, emoji = msg.Reaction.MessageID, msg.Reaction.Emoji
		}
		p.logger.Info("reaction received", "message_id", msg.ID, "from", msg.From, "target", target, "emoji", emoji)
		return nil
	}

	if p.deps.Cache != nil && p.deps.Cache.Seen(msg.ID) {
		p.duplicate(msg, "cache")
		return nil
	}

	exists, err := p.messageExists(ctx, msg.ID)
	if err != nil {
		p.logger.Warn("message ledger lookup failed, relying on insert", "message_id", msg.ID, "error", err)
	} else if exists {
		p.markSeen(msg.ID)
		p.duplicate(msg, "ledger")
		return nil
	}

	text := Content(msg)
	inbound := &store.Message{
		ProviderMessageID: msg.ID,
		ChannelID:         channelID,
		UserID:            msg.From,
		Direction:         store.DirectionInbound,
		Kind:              msg.Type,
		Content:           text,
		Status:            store.StatusReceived,
		ProviderTimestamp: parseTimestamp(msg.Timestamp),
	}
	if err := p.createMessage(ctx, inbound); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			p.markSeen(msg.ID)
			p.duplicate(msg, "insert")
			return nil
		}
		p.logger.Warn("failed to record inbound message", "message_id", msg.ID, "error", err)
	}

	reply := p.deps.Conversation.Process(ctx, conversation.Request{UserID: msg.From, Text: text})
	p.markSeen(msg.ID)

	if reply == nil || strings.TrimSpace(reply.Text) == "" {
		return nil
	}
	p.deliver(ctx, channelID, msg.From, reply.Text)
	return nil
}

func (p *Pipeline) duplicate(msg *InboundMessage, source string) {
	p.logger.Info("duplicate message skipped", "message_id", msg.ID, "from", msg.From, "source", source)
	p.deps.Metrics.Duplicate()
}

func (p *Pipeline) markSeen(id string) {
	if p.deps.Cache != nil {
		p.deps.Cache.Mark(id)
	}
}

func (p *Pipeline) messageExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTO)
	defer cancel()
	return p.deps.Store.MessageExists(ctx, id)
}

func (p *Pipeline) createMessage(ctx context.Context, msg *store.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTO)
	defer cancel()
	return p.deps.Store.CreateMessage(ctx, msg)
}

// deliver sends the reply and records it in the ledger. Failures are not retried.
func (p *Pipeline) deliver(ctx context.Context, channelID, to, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTO)
	deliveryID, err := p.deps.Sender.SendText(sendCtx, channelID, to, text)
	cancel()
	if err != nil {
		p.logger.Error("reply delivery failed", "channel_id", channelID, "to", to, "error", err)
		p.deps.Metrics.DeliveryFailure()
		return
	}

	outbound := &store.Message{
		ProviderMessageID: deliveryID,
		ChannelID:         channelID,
		UserID:            to,
		Direction:         store.DirectionOutbound,
		Kind:              "text",
		Content:           text,
		Status:            store.StatusSent,
	}
	if err := p.createMessage(ctx, outbound); err != nil {
		p.logger.Warn("failed to record outbound message", "delivery_id", deliveryID, "error", err)
	}
}

var statusValues = map[string]string{
	"sent":      store.StatusSent,
	"delivered": store.StatusDelivered,
	"read":      store.StatusRead,
	"failed":    store.StatusFailed,
}

func (p *Pipeline) handleStatus(ctx context.Context, st *Status) error {
	if strings.TrimSpace(st.ID) == "" {
		return invalid("status.id", "missing")
	}
	status, ok := statusValues[strings.ToLower(st.Status)]
	if !ok {
		return invalid("status.status", "unknown value "+st.Status)
	}

	at := parseTimestamp(st.Timestamp)
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, p.storeTO)
	defer cancel()

	err := p.deps.Store.UpdateMessageStatus(ctx, st.ID, status, at)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p.logger.Debug("status for unknown message", "message_id", st.ID, "status", status)
	case err != nil:
		p.logger.Warn("failed to update message status", "message_id", st.ID, "status", status, "error", err)
	default:
		p.logger.Debug("message status updated", "message_id", st.ID, "status", status)
	}
	return nil
}

// resolveChannel finds the receiving channel, provisioning it when unknown.
// Concurrent first messages on one channel share a single lookup. Failures
// are logged and ingestion continues.
func (p *Pipeline) resolveChannel(ctx context.Context, md Metadata) {
	if _, ok := p.known.Load(md.PhoneNumberID); ok {
		return
	}

	_, err, _ := p.resolve.Do(md.PhoneNumberID, func() (any, error) {
		if _, ok := p.known.Load(md.PhoneNumberID); ok {
			return nil, nil
		}
		if err := p.provisionChannel(context.WithoutCancel(ctx), md); err != nil {
			return nil, err
		}
		p.known.Store(md.PhoneNumberID, struct{}{})
		return nil, nil
	})
	if err != nil {
		p.logger.Warn("channel resolution failed", "channel_id", md.PhoneNumberID, "error", err)
	}
}

func (p *Pipeline) provisionChannel(ctx context.Context, md Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTO)
	defer cancel()

	_, err := p.deps.Store.FindChannelByChannelID(ctx, md.PhoneNumberID)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	err = p.deps.Store.CreateDefaultChannel(ctx, &store.Channel{
		ChannelID:     md.PhoneNumberID,
		DisplayNumber: md.DisplayPhoneNumber,
		DailyLimit:    p.channels.DailyLimit,
		RatePerSecond: p.channels.RatePerSecond,
		IsActive:      true,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another process provisioned it first; the row is there now.
		_, err = p.deps.Store.FindChannelByChannelID(ctx, md.PhoneNumberID)
	}
	return err
}
