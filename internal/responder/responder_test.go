// ABOUTME: Tests for the pattern-matching responder
// ABOUTME: Covers priority order, topic search, state merging, usage counting and panic recovery

package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth/internal/script"
	"github.com/2389/hearth/internal/store"
)

func compile(t *testing.T, src string) *script.RuleSet {
	t.Helper()
	rs, err := script.Compile(src)
	require.NoError(t, err)
	return rs
}

func newResponder(t *testing.T, entries ...Entry) (*Responder, *store.MockStore) {
	t.Helper()
	ms := store.NewMockStore()
	r := New(ms, time.Second, nil)
	r.Swap(NewSnapshot(entries))
	return r, ms
}

func strPtr(s string) *string { return &s }

func TestResponder_NoSnapshot(t *testing.T) {
	r := New(nil, time.Second, nil)

	assert.False(t, r.Ready())
	_, ok := r.Match(context.Background(), "u1", "hola", &State{})
	assert.False(t, ok)

	r.Swap(NewSnapshot(nil))
	assert.True(t, r.Ready())
	_, ok = r.Match(context.Background(), "u1", "hola", &State{})
	assert.False(t, ok, "empty snapshot never matches")
}

func TestResponder_MixedCaseLiteral(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, "+ hola\n- Hi!")})

	m, ok := r.Match(context.Background(), "u1", "Hola", &State{})
	require.True(t, ok)
	assert.Equal(t, "Hi!", m.Reply)
	assert.Equal(t, "rs-1", m.RuleSetID)
	assert.Equal(t, 0.9, m.Confidence)
}

func TestResponder_RandomResponseFromDeclaredSet(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, "+ hola\n- Hi!\n- Hello!\n- Hey!")})

	allowed := []string{"Hi!", "Hello!", "Hey!"}
	for range 20 {
		m, ok := r.Match(context.Background(), "u1", "hola", &State{})
		require.True(t, ok)
		assert.Contains(t, allowed, m.Reply)
	}
}

func TestResponder_PriorityOrder(t *testing.T) {
	r, _ := newResponder(t,
		Entry{ID: "low", Name: "low", Priority: 20, Rules: compile(t, "+ hola\n- from low")},
		Entry{ID: "high", Name: "high", Priority: 5, Rules: compile(t, "+ hola\n- from high")},
		Entry{ID: "tie-default", Name: "zz", Priority: 20, Default: true, Rules: compile(t, "+ adios\n- from default")},
		Entry{ID: "tie-other", Name: "aa", Priority: 20, Rules: compile(t, "+ adios\n- from aa")},
	)

	m, ok := r.Match(context.Background(), "u1", "hola", &State{})
	require.True(t, ok)
	assert.Equal(t, "high", m.RuleSetID)

	m, ok = r.Match(context.Background(), "u1", "adios", &State{})
	require.True(t, ok)
	assert.Equal(t, "tie-default", m.RuleSetID, "default wins a priority tie")
}

func TestResponder_TopicSearchedFirst(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, `
+ how much
- general price list

+ thanks
- you are welcome

> topic pricing
+ how much
- the premium plan is 20
< topic
`)})

	st := &State{Topic: strPtr("pricing")}
	m, ok := r.Match(context.Background(), "u1", "how much?", st)
	require.True(t, ok)
	assert.Equal(t, "the premium plan is 20", m.Reply)
	assert.Equal(t, "pricing", m.Topic)

	m, ok = r.Match(context.Background(), "u1", "thanks", st)
	require.True(t, ok, "default topic is searched after the session topic")
	assert.Equal(t, "you are welcome", m.Reply)

	m, ok = r.Match(context.Background(), "u1", "how much", &State{})
	require.True(t, ok)
	assert.Equal(t, "general price list", m.Reply, "topic triggers are hidden outside the topic")
}

func TestResponder_PriorityBeatsSessionTopic(t *testing.T) {
	r, _ := newResponder(t,
		Entry{ID: "p1", Name: "p1", Priority: 1, Rules: compile(t, "+ how much\n- from priority one")},
		Entry{ID: "p2", Name: "p2", Priority: 2, Rules: compile(t, "> topic pricing\n+ how much\n- from priority two\n< topic")},
	)

	m, ok := r.Match(context.Background(), "u1", "how much", &State{Topic: strPtr("pricing")})
	require.True(t, ok)
	assert.Equal(t, "p1", m.RuleSetID)
	assert.Equal(t, "from priority one", m.Reply)
	assert.Equal(t, script.DefaultTopic, m.Topic)
}

func TestResponder_SessionTopicFirstWithinRuleSet(t *testing.T) {
	r, _ := newResponder(t,
		Entry{ID: "p1", Name: "p1", Priority: 1, Rules: compile(t, "+ hola\n- p1 default\n> topic pricing\n+ hola\n- p1 pricing\n< topic")},
		Entry{ID: "p2", Name: "p2", Priority: 2, Rules: compile(t, "> topic pricing\n+ hola\n- p2 pricing\n< topic")},
	)

	m, ok := r.Match(context.Background(), "u1", "hola", &State{Topic: strPtr("pricing")})
	require.True(t, ok)
	assert.Equal(t, "p1 pricing", m.Reply)
}

func TestResponder_PanicSkipsOnlyThatRuleSet(t *testing.T) {
	calls := 0
	r, _ := newResponder(t,
		Entry{ID: "bad", Name: "bad", Priority: 1, Rules: compile(t, "+ hola\n- never")},
		Entry{ID: "good", Name: "good", Priority: 2, Rules: compile(t, "+ hola\n- from good")},
	)
	r.pick = func(n int) int {
		calls++
		if calls == 1 {
			return n // out of range
		}
		return 0
	}

	m, ok := r.Match(context.Background(), "u1", "hola", &State{})
	require.True(t, ok)
	assert.Equal(t, "good", m.RuleSetID)
}

func TestResponder_MergesState(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, `
+ my name is *
- Nice to meet you, <star>!<set name=<star>>{topic=onboarding}

+ who am i
- You are <get name>.
`)})

	st := &State{Vars: map[string]string{"lang": "es"}}
	m, ok := r.Match(context.Background(), "u1", "My name is Ana", st)
	require.True(t, ok)
	assert.Equal(t, "Nice to meet you, ana!", m.Reply)
	assert.Equal(t, "ana", st.Vars["name"])
	assert.Equal(t, "es", st.Vars["lang"])
	require.NotNil(t, st.Topic)
	assert.Equal(t, "onboarding", *st.Topic)

	m, ok = r.Match(context.Background(), "u1", "who am i", st)
	require.True(t, ok)
	assert.Equal(t, "You are ana.", m.Reply)
}

func TestResponder_EchoReplyIsNoMatch(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, "+ *\n- <star>")})

	_, ok := r.Match(context.Background(), "u1", "Parrot!", &State{})
	assert.False(t, ok)
}

func TestResponder_EmptyReplyIsNoMatch(t *testing.T) {
	r, _ := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, "+ hola\n- <set x=1>")})

	st := &State{}
	_, ok := r.Match(context.Background(), "u1", "hola", st)
	assert.False(t, ok)
	assert.Nil(t, st.Vars, "state untouched on no match")
}

func TestResponder_CountsUsage(t *testing.T) {
	ms := store.NewMockStore()
	rs := &store.RuleSet{Name: "main", SourceText: "+ hola\n- Hi!", IsActive: true}
	require.NoError(t, ms.SaveRuleSet(context.Background(), rs))

	r := New(ms, time.Second, nil)
	r.Swap(NewSnapshot([]Entry{{ID: rs.ID, Name: rs.Name, Rules: compile(t, rs.SourceText)}}))

	_, ok := r.Match(context.Background(), "u1", "hola", &State{})
	require.True(t, ok)

	got, err := ms.GetRuleSetByName(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
}

func TestResponder_UsageFailureStillMatches(t *testing.T) {
	r, ms := newResponder(t, Entry{ID: "rs-1", Name: "main", Rules: compile(t, "+ hola\n- Hi!")})
	ms.FailOn("IncrementRuleSetUsage", errors.New("db down"))

	m, ok := r.Match(context.Background(), "u1", "hola", &State{})
	require.True(t, ok)
	assert.Equal(t, "Hi!", m.Reply)
	assert.Equal(t, 1, ms.Calls("IncrementRuleSetUsage"))
}

func TestResponder_PanicIsRecovered(t *testing.T) {
	r, _ := newResponder(t,
		Entry{ID: "bad", Name: "bad", Priority: 1, Rules: compile(t, "+ hola\n- never")},
	)
	r.pick = func(n int) int { return n } // out of range

	_, ok := r.Match(context.Background(), "u1", "hola", &State{})
	assert.False(t, ok)
}

func TestMatchEngineError(t *testing.T) {
	cause := errors.New("boom")
	err := &MatchEngineError{RuleSet: "main", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"main"`)
}

func TestSnapshot_Order(t *testing.T) {
	rs := compile(t, "+ a\n- b")
	snap := NewSnapshot([]Entry{
		{Name: "c", Priority: 2, Rules: rs},
		{Name: "b", Priority: 1, Rules: rs},
		{Name: "a", Priority: 2, Rules: rs},
		{Name: "def", Priority: 2, Default: true, Rules: rs},
		{Name: "uncompiled", Priority: 0},
	})

	var names []string
	for _, e := range snap.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"b", "def", "a", "c"}, names)
	assert.Equal(t, 4, snap.Len())
	assert.False(t, snap.LoadedAt().IsZero())

	var nilSnap *Snapshot
	assert.Equal(t, 0, nilSnap.Len())
}
