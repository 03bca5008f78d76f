// ABOUTME: Conversation pipeline: session lifecycle, rule matching, fallback and audit
// ABOUTME: Every message gets exactly one reply and one interaction record, even on internal faults

package conversation

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/2389/hearth/internal/fallback"
	"github.com/2389/hearth/internal/responder"
	"github.com/2389/hearth/internal/session"
	"github.com/2389/hearth/internal/store"
)

// SessionManager is the session lifecycle the pipeline drives.
type SessionManager interface {
	Lock(userID string) (unlock func())
	Now() time.Time
	GetOrCreate(ctx context.Context, userID string) (*store.Session, bool)
	IsExpired(sess *store.Session, now time.Time) bool
	IsCloseCommand(message string) bool
	Restart(ctx context.Context, sess *store.Session, message string) *store.Session
	Close(ctx context.Context, sess *store.Session)
	Touch(sess *store.Session, now time.Time)
	Save(ctx context.Context, sess *store.Session)
}

// Matcher answers from the loaded rule sets.
type Matcher interface {
	Match(ctx context.Context, userID, message string, st *responder.State) (*responder.Match, bool)
}

// Fallback answers when no rule matches.
type Fallback interface {
	Respond(message string) fallback.Result
}

// Recorder persists interaction records.
type Recorder interface {
	Log(rec *store.Interaction)
}

// Metrics observes pipeline outcomes.
type Metrics interface {
	Interaction(kind string)
	ObservePipeline(d time.Duration)
}

// Replies are the fixed texts used outside rule matching.
type Replies struct {
	Restart string
	Close   string
	Apology string
}

// Deps bundles the service collaborators. Broadcaster and Metrics may be nil.
type Deps struct {
	Sessions    SessionManager
	Matcher     Matcher
	Fallback    Fallback
	Recorder    Recorder
	Broadcaster *Broadcaster
	Metrics     Metrics
	Replies     Replies
}

// Request is one normalized inbound message.
type Request struct {
	UserID string
	Text   string
}

// Reply is the pipeline's answer.
type Reply struct {
	Text         string
	Kind         store.InteractionKind
	Confidence   float64
	RuleSetID    *string
	SessionCount int
}

// Service runs the conversation pipeline. Safe for concurrent use; messages
// for the same user are processed one at a time.
type Service struct {
	deps     Deps
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// New creates a conversation service.
func New(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "conversation"),
	}
}

// Process answers one message. It never fails: a fault inside the pipeline
// yields the apology reply with kind error.
//
// Order: expiry restart, then close command, then rule match, then fallback.
func (s *Service) Process(ctx context.Context, req Request) (reply *Reply) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	unlock := s.deps.Sessions.Lock(req.UserID)
	defer unlock()
	start := time.Now() // latency excludes waiting on the user's lock

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("conversation pipeline panicked",
				"user_id", req.UserID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			reply = &Reply{Text: s.deps.Replies.Apology, Kind: store.InteractionError}
			s.record(req, reply, start)
		}
	}()

	sess, created := s.deps.Sessions.GetOrCreate(ctx, req.UserID)
	now := s.deps.Sessions.Now()

	if !created && s.deps.Sessions.IsExpired(sess, now) {
		s.deps.Sessions.Restart(ctx, sess, req.Text)
		reply = &Reply{
			Text:         s.deps.Replies.Restart,
			Kind:         store.InteractionSessionRestart,
			Confidence:   1.0,
			SessionCount: sess.SessionCount,
		}
		s.record(req, reply, start)
		return reply
	}

	if s.deps.Sessions.IsCloseCommand(req.Text) {
		reply = &Reply{
			Text:         s.deps.Replies.Close,
			Kind:         store.InteractionSessionClosed,
			Confidence:   1.0,
			SessionCount: sess.SessionCount,
		}
		s.deps.Sessions.Close(ctx, sess)
		s.record(req, reply, start)
		return reply
	}

	st := &responder.State{Topic: sess.CurrentTopic, Vars: sess.Variables}
	restarting := sess.CurrentTopic != nil && *sess.CurrentTopic == session.RestartTopic

	if m, ok := s.deps.Matcher.Match(ctx, req.UserID, req.Text, st); ok {
		id := m.RuleSetID
		sess.ActiveRuleSetID = &id
		reply = &Reply{
			Text:       m.Reply,
			Kind:       store.InteractionRuleMatch,
			Confidence: m.Confidence,
			RuleSetID:  &id,
		}
	} else {
		fb := s.deps.Fallback.Respond(req.Text)
		kind := store.InteractionFallbackGeneric
		if fb.Kind == fallback.KindKeyword {
			kind = store.InteractionFallbackKeyword
		}
		reply = &Reply{Text: fb.Reply, Kind: kind, Confidence: fb.Confidence}
	}

	// the restart topic lasts for one message unless a rule moved it
	if restarting && st.Topic != nil && *st.Topic == session.RestartTopic {
		st.Topic = nil
	}
	sess.CurrentTopic = st.Topic
	sess.Variables = st.Vars
	if sess.Variables == nil {
		sess.Variables = make(map[string]string)
	}

	s.deps.Sessions.Touch(sess, now)
	s.deps.Sessions.Save(ctx, sess)

	reply.SessionCount = sess.SessionCount
	s.record(req, reply, start)
	return reply
}

func (s *Service) record(req Request, reply *Reply, start time.Time) {
	elapsed := time.Since(start)
	rec := &store.Interaction{
		UserID:     req.UserID,
		InputText:  req.Text,
		OutputText: reply.Text,
		Kind:       reply.Kind,
		LatencyMs:  elapsed.Milliseconds(),
		Confidence: reply.Confidence,
		RuleSetID:  reply.RuleSetID,
	}
	s.deps.Recorder.Log(rec)
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.Publish(rec)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Interaction(string(reply.Kind))
		s.deps.Metrics.ObservePipeline(elapsed)
	}

	s.logger.Debug("reply produced",
		"user_id", req.UserID,
		"kind", reply.Kind,
		"confidence", reply.Confidence,
		"latency_ms", rec.LatencyMs,
	)
}

// Wait blocks until in-flight Process calls return or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
