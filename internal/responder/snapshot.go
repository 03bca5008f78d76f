// ABOUTME: Immutable snapshot of compiled rule sets in match order
// ABOUTME: Published to the responder through an atomic pointer on every reload

package responder

import (
	"sort"
	"time"

	"github.com/2389/hearth/internal/script"
)

// Entry is one compiled rule set as seen by the responder.
type Entry struct {
	ID       string
	Name     string
	Priority int
	Default  bool
	Rules    *script.RuleSet
}

// Snapshot is an ordered, immutable view of the active rule sets.
type Snapshot struct {
	entries  []Entry
	loadedAt time.Time
}

// NewSnapshot orders entries by ascending priority. Ties go to the default
// rule set first, then by name.
func NewSnapshot(entries []Entry) *Snapshot {
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Rules != nil {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Default != b.Default {
			return a.Default
		}
		return a.Name < b.Name
	})
	return &Snapshot{entries: sorted, loadedAt: time.Now()}
}

// Len returns the number of rule sets in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the ordered entries.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}
