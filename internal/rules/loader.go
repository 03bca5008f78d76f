// ABOUTME: Compiles the active rule sets from storage and hot-swaps the responder snapshot
// ABOUTME: A failed reload keeps the previous snapshot; reloads run one at a time

package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/hearth/internal/responder"
	"github.com/2389/hearth/internal/script"
	"github.com/2389/hearth/internal/store"
)

// ErrMultipleDefaults is returned when more than one active rule set is marked default.
var ErrMultipleDefaults = errors.New("more than one active default rule set")

// RuleSetError ties a failure to the rule set that caused it.
type RuleSetError struct {
	RuleSet string
	Err     error
}

func (e *RuleSetError) Error() string {
	return fmt.Sprintf("rule set %q: %v", e.RuleSet, e.Err)
}

func (e *RuleSetError) Unwrap() error { return e.Err }

// Diagnostics returns the compile diagnostics carried by err, if any.
func Diagnostics(err error) ([]script.Diagnostic, bool) {
	var cerr *script.CompileError
	if errors.As(err, &cerr) {
		return cerr.Diagnostics, true
	}
	return nil, false
}

// Target receives compiled snapshots.
type Target interface {
	Swap(s *responder.Snapshot)
}

// Gauge tracks how many rule sets are loaded.
type Gauge interface {
	SetRuleSets(n int)
}

// SetReport describes one loaded rule set.
type SetReport struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Priority int                 `json:"priority"`
	Default  bool                `json:"default"`
	Triggers int                 `json:"triggers"`
	Topics   []string            `json:"topics"`
	Warnings []script.Diagnostic `json:"warnings,omitempty"`
}

// Report is the outcome of a successful reload.
type Report struct {
	RuleSets []SetReport `json:"rule_sets"`
	LoadedAt time.Time   `json:"loaded_at"`
}

// Loader turns stored rule sets into responder snapshots.
type Loader struct {
	store   store.RuleSetStore
	target  Target
	gauge   Gauge
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex // serializes reloads
	requested atomic.Uint64
	covered   uint64 // highest request number the last result reflects
	last      *Report
	lastErr   error
}

// NewLoader creates a loader. gauge may be nil.
func NewLoader(st store.RuleSetStore, target Target, gauge Gauge, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Loader{
		store:   st,
		target:  target,
		gauge:   gauge,
		timeout: timeout,
		logger:  logger.With("component", "rules"),
	}
}

// Reload compiles every active rule set and publishes them as one snapshot.
// On any compile error, a second default or a storage failure the previous
// snapshot stays in place and the error is returned.
//
// Reloads run one at a time. A caller gets a shared result only from a
// reload that started listing after the caller's request, so a save made
// before Reload is always compiled.
func (l *Loader) Reload(ctx context.Context) (*Report, error) {
	n := l.requested.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.covered >= n {
		l.logger.Debug("reload served by one that started after the request")
		return l.last, l.lastErr
	}

	upTo := l.requested.Load()
	report, err := l.reload(context.WithoutCancel(ctx))
	l.covered, l.last, l.lastErr = upTo, report, err
	return report, err
}

func (l *Loader) reload(ctx context.Context) (*Report, error) {
	listCtx, cancel := context.WithTimeout(ctx, l.timeout)
	sets, err := l.store.ListActiveRuleSets(listCtx)
	cancel()
	if err != nil {
		l.logger.Error("reload failed, keeping previous rules", "error", err)
		return nil, fmt.Errorf("listing active rule sets: %w", err)
	}

	var defaults []string
	for _, rs := range sets {
		if rs.IsDefault {
			defaults = append(defaults, rs.Name)
		}
	}
	if len(defaults) > 1 {
		l.logger.Error("reload rejected", "error", ErrMultipleDefaults, "defaults", defaults)
		return nil, fmt.Errorf("%w: %v", ErrMultipleDefaults, defaults)
	}

	entries := make([]responder.Entry, 0, len(sets))
	report := &Report{RuleSets: make([]SetReport, 0, len(sets))}
	for _, rs := range sets {
		compiled, err := script.Compile(rs.SourceText)
		if err != nil {
			l.logger.Error("reload rejected, keeping previous rules", "rule_set", rs.Name, "error", err)
			return nil, &RuleSetError{RuleSet: rs.Name, Err: err}
		}
		for _, w := range compiled.Warnings {
			l.logger.Warn("rule script warning", "rule_set", rs.Name, "line", w.Line, "warning", w.Message)
		}

		entries = append(entries, responder.Entry{
			ID:       rs.ID,
			Name:     rs.Name,
			Priority: rs.Priority,
			Default:  rs.IsDefault,
			Rules:    compiled,
		})
		report.RuleSets = append(report.RuleSets, SetReport{
			ID:       rs.ID,
			Name:     rs.Name,
			Priority: rs.Priority,
			Default:  rs.IsDefault,
			Triggers: compiled.TriggerCount(),
			Topics:   compiled.TopicNames(),
			Warnings: compiled.Warnings,
		})
	}

	snap := responder.NewSnapshot(entries)
	l.target.Swap(snap)
	if l.gauge != nil {
		l.gauge.SetRuleSets(snap.Len())
	}
	report.LoadedAt = snap.LoadedAt()

	l.logger.Info("rules loaded", "rule_sets", snap.Len())
	return report, nil
}
