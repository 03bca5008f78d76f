// ABOUTME: Tests for the rule set loader
// ABOUTME: Covers snapshot publishing, rejected reloads and report contents

package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth/internal/responder"
	"github.com/2389/hearth/internal/store"
)

type fakeTarget struct {
	mu    sync.Mutex
	snaps []*responder.Snapshot
}

func (f *fakeTarget) Swap(s *responder.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, s)
}

func (f *fakeTarget) swaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func (f *fakeTarget) last() *responder.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return nil
	}
	return f.snaps[len(f.snaps)-1]
}

type fakeGauge struct{ n int }

func (f *fakeGauge) SetRuleSets(n int) { f.n = n }

// stubRuleSets serves a fixed listing, bypassing store-side default checks.
type stubRuleSets struct {
	store.RuleSetStore
	sets []*store.RuleSet
}

func (s *stubRuleSets) ListActiveRuleSets(ctx context.Context) ([]*store.RuleSet, error) {
	return s.sets, nil
}

const helloScript = "+ hola\n- Hi!\n"

func save(t *testing.T, st store.RuleSetStore, name, source string, priority int, isDefault, active bool) {
	t.Helper()
	require.NoError(t, st.SaveRuleSet(context.Background(), &store.RuleSet{
		Name: name, SourceText: source, Priority: priority, IsDefault: isDefault, IsActive: active,
	}))
}

func TestReload_PublishesActiveRuleSets(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "promos", "+ precio\n- Te contactamos\n", 2, false, true)
	save(t, st, "main", helloScript, 1, true, true)
	save(t, st, "draft", helloScript, 0, false, false)

	target := &fakeTarget{}
	gauge := &fakeGauge{}
	l := NewLoader(st, target, gauge, time.Second, nil)

	report, err := l.Reload(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, target.swaps())
	assert.Equal(t, 2, target.last().Len())
	assert.Equal(t, 2, gauge.n)

	require.Len(t, report.RuleSets, 2)
	assert.Equal(t, "main", report.RuleSets[0].Name)
	assert.True(t, report.RuleSets[0].Default)
	assert.Equal(t, 1, report.RuleSets[0].Triggers)
	assert.Equal(t, []string{"random"}, report.RuleSets[0].Topics)
	assert.Equal(t, "promos", report.RuleSets[1].Name)
	assert.False(t, report.LoadedAt.IsZero())
}

func TestReload_EmptyStorePublishesEmptySnapshot(t *testing.T) {
	target := &fakeTarget{}
	l := NewLoader(store.NewMockStore(), target, nil, 0, nil)

	report, err := l.Reload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.RuleSets)
	require.NotNil(t, target.last())
	assert.Equal(t, 0, target.last().Len())
}

func TestReload_CompileErrorKeepsPreviousSnapshot(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "main", helloScript, 1, true, true)

	target := &fakeTarget{}
	l := NewLoader(st, target, nil, time.Second, nil)
	_, err := l.Reload(context.Background())
	require.NoError(t, err)
	before := target.last()

	save(t, st, "broken", "- orphan\n", 2, false, true)
	_, err = l.Reload(context.Background())
	require.Error(t, err)

	var rserr *RuleSetError
	require.ErrorAs(t, err, &rserr)
	assert.Equal(t, "broken", rserr.RuleSet)

	diags, ok := Diagnostics(err)
	require.True(t, ok)
	require.Len(t, diags, 1)
	assert.Equal(t, 1, diags[0].Line)

	assert.Equal(t, 1, target.swaps())
	assert.Same(t, before, target.last())
}

func TestReload_StorageErrorKeepsPreviousSnapshot(t *testing.T) {
	st := store.NewMockStore()
	st.FailOn("ListActiveRuleSets", errors.New("database is locked"))

	target := &fakeTarget{}
	_, err := NewLoader(st, target, nil, time.Second, nil).Reload(context.Background())
	require.Error(t, err)
	assert.Zero(t, target.swaps())

	_, ok := Diagnostics(err)
	assert.False(t, ok)
}

func TestReload_RejectsMultipleDefaults(t *testing.T) {
	st := &stubRuleSets{sets: []*store.RuleSet{
		{ID: "1", Name: "a", SourceText: helloScript, IsActive: true, IsDefault: true},
		{ID: "2", Name: "b", SourceText: helloScript, IsActive: true, IsDefault: true},
	}}

	target := &fakeTarget{}
	_, err := NewLoader(st, target, nil, time.Second, nil).Reload(context.Background())
	require.ErrorIs(t, err, ErrMultipleDefaults)
	assert.Zero(t, target.swaps())
}

func TestReload_ReportsWarnings(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "main", "+ hola\n+ hi\n- Hey\n", 1, false, true)

	report, err := NewLoader(st, &fakeTarget{}, nil, time.Second, nil).Reload(context.Background())
	require.NoError(t, err)

	require.Len(t, report.RuleSets, 1)
	assert.Equal(t, 1, report.RuleSets[0].Triggers)
	require.Len(t, report.RuleSets[0].Warnings, 1)
	assert.Contains(t, report.RuleSets[0].Warnings[0].Message, "no responses")
}

func TestReload_SwapsIntoResponder(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "main", helloScript, 1, true, true)

	r := responder.New(nil, time.Second, nil)
	require.False(t, r.Ready())

	_, err := NewLoader(st, r, nil, time.Second, nil).Reload(context.Background())
	require.NoError(t, err)
	require.True(t, r.Ready())

	m, ok := r.Match(context.Background(), "u1", "Hola", &responder.State{})
	require.True(t, ok)
	assert.Equal(t, "Hi!", m.Reply)
}

func TestReload_CanceledContextStillReloads(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "main", helloScript, 1, true, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(st, &fakeTarget{}, nil, time.Second, nil).Reload(ctx)
	require.NoError(t, err)
}

// gatedRuleSets blocks the first listing after it has read the store, so a
// save and a second reload can happen while that listing is in flight.
type gatedRuleSets struct {
	store.RuleSetStore
	listed  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRuleSets) ListActiveRuleSets(ctx context.Context) ([]*store.RuleSet, error) {
	sets, err := g.RuleSetStore.ListActiveRuleSets(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.listed)
		<-g.release
	}
	return sets, err
}

func TestReload_AfterSaveNeverReturnsStaleListing(t *testing.T) {
	ms := store.NewMockStore()
	save(t, ms, "main", "+ hola\n- old\n", 1, true, true)
	gated := &gatedRuleSets{RuleSetStore: ms, listed: make(chan struct{}), release: make(chan struct{})}

	r := responder.New(nil, time.Second, nil)
	l := NewLoader(gated, r, nil, time.Second, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := l.Reload(context.Background())
		firstDone <- err
	}()
	<-gated.listed

	save(t, ms, "main", "+ hola\n- new\n", 1, true, true)

	secondDone := make(chan error, 1)
	go func() {
		_, err := l.Reload(context.Background())
		secondDone <- err
	}()
	close(gated.release)

	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	m, ok := r.Match(context.Background(), "u1", "hola", &responder.State{})
	require.True(t, ok)
	assert.Equal(t, "new", m.Reply)
}

func TestReload_SequentialCallsEachList(t *testing.T) {
	ms := store.NewMockStore()
	save(t, ms, "main", helloScript, 1, true, true)
	target := &fakeTarget{}
	l := NewLoader(ms, target, nil, time.Second, nil)

	for range 3 {
		_, err := l.Reload(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, target.swaps())
}

func TestReload_ConcurrentCallsAllSucceed(t *testing.T) {
	ms := store.NewMockStore()
	save(t, ms, "main", helloScript, 1, true, true)
	target := &fakeTarget{}
	l := NewLoader(ms, target, nil, time.Second, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := l.Reload(context.Background())
			assert.NoError(t, err)
			assert.Len(t, report.RuleSets, 1)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, target.swaps(), 1)
	assert.LessOrEqual(t, target.swaps(), 8)
}
