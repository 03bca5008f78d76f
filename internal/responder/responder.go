// ABOUTME: Pattern-matching responder over the active rule set snapshot
// ABOUTME: Rule sets in priority order, each searched in the session topic then the default topic

package responder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/2389/hearth/internal/script"
)

// Confidence reported for every rule match.
const Confidence = 0.9

// State is the session context a match reads and updates.
type State struct {
	Topic *string
	Vars  map[string]string
}

// Match is a successful rule reply.
type Match struct {
	Reply       string
	RuleSetID   string
	RuleSetName string
	Topic       string // topic the trigger was found in
	Trigger     string
	Confidence  float64
}

// MatchEngineError reports a failure while evaluating one rule set.
type MatchEngineError struct {
	RuleSet string
	Err     error
}

func (e *MatchEngineError) Error() string {
	return fmt.Sprintf("match engine error in rule set %q: %v", e.RuleSet, e.Err)
}

func (e *MatchEngineError) Unwrap() error { return e.Err }

// UsageRecorder counts rule set hits.
type UsageRecorder interface {
	IncrementRuleSetUsage(ctx context.Context, id string, at time.Time) error
}

// Responder answers messages from the current snapshot. Safe for concurrent use.
type Responder struct {
	snap    atomic.Pointer[Snapshot]
	usage   UsageRecorder
	timeout time.Duration
	logger  *slog.Logger

	pick func(n int) int // response choice, replaceable in tests
}

// New creates a responder with no rules loaded. usage may be nil.
func New(usage UsageRecorder, timeout time.Duration, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Responder{
		usage:   usage,
		timeout: timeout,
		logger:  logger.With("component", "responder"),
		pick:    rand.IntN,
	}
}

// Swap publishes a new snapshot. In-flight matches finish on the old one.
func (r *Responder) Swap(s *Snapshot) {
	r.snap.Store(s)
}

// Snapshot returns the current snapshot, or nil if none was loaded.
func (r *Responder) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Ready reports whether a snapshot has been published.
func (r *Responder) Ready() bool {
	return r.snap.Load() != nil
}

// Match finds a reply for message. Rule sets are tried in priority order;
// within each, the session topic is searched before the default topic. On
// success the rendered variable assignments and topic change are merged into st.
func (r *Responder) Match(ctx context.Context, userID, message string, st *State) (*Match, bool) {
	snap := r.snap.Load()
	if snap.Len() == 0 {
		return nil, false
	}
	input := script.Normalize(message)
	if input == "" {
		return nil, false
	}
	if st == nil {
		st = &State{}
	}

	topics := []string{script.DefaultTopic}
	if st.Topic != nil && *st.Topic != "" && *st.Topic != script.DefaultTopic {
		topics = []string{*st.Topic, script.DefaultTopic}
	}

	for _, entry := range snap.entries {
		for _, topic := range topics {
			m, rendered, ok, err := r.evaluate(entry, topic, input, st.Vars)
			if err != nil {
				r.logger.Error("rule evaluation failed", "user_id", userID, "error", err)
				break
			}
			if !ok {
				continue
			}

			if rendered.Text == "" || script.Normalize(rendered.Text) == input {
				r.logger.Debug("discarding empty or echo reply", "user_id", userID, "rule_set", entry.Name)
				return nil, false
			}

			for k, v := range rendered.Vars {
				if st.Vars == nil {
					st.Vars = make(map[string]string)
				}
				st.Vars[k] = v
			}
			if rendered.Topic != nil {
				t := *rendered.Topic
				st.Topic = &t
			}

			r.countUsage(ctx, entry)
			r.logger.Debug("rule matched",
				"user_id", userID,
				"rule_set", entry.Name,
				"topic", topic,
				"trigger", m.Trigger,
			)
			return m, true
		}
	}
	return nil, false
}

// evaluate runs one rule set against the input, converting panics into errors.
func (r *Responder) evaluate(entry Entry, topic, input string, vars map[string]string) (m *Match, rendered script.Rendered, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &MatchEngineError{RuleSet: entry.Name, Err: fmt.Errorf("panic: %v", p)}
			ok = false
		}
	}()

	t := entry.Rules.Topic(topic)
	if t == nil {
		return nil, rendered, false, nil
	}
	trig, stars, found := t.Find(input)
	if !found {
		return nil, rendered, false, nil
	}

	response := trig.Responses[r.pick(len(trig.Responses))]
	rendered = script.Render(response, stars, vars)
	return &Match{
		Reply:       rendered.Text,
		RuleSetID:   entry.ID,
		RuleSetName: entry.Name,
		Topic:       topic,
		Trigger:     trig.Pattern,
		Confidence:  Confidence,
	}, rendered, true, nil
}

func (r *Responder) countUsage(ctx context.Context, entry Entry) {
	if r.usage == nil || entry.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.usage.IncrementRuleSetUsage(ctx, entry.ID, time.Now().UTC()); err != nil {
		r.logger.Warn("failed to count rule set usage", "rule_set", entry.Name, "error", err)
	}
}
