// ABOUTME: Syncs a rules directory described by rules.toml into the rule set store
// ABOUTME: Every script compiles before anything is written, then the responder reloads

package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/hearth/internal/script"
	"github.com/2389/hearth/internal/store"
)

// ManifestFile is the manifest name inside a rules directory.
const ManifestFile = "rules.toml"

// ManifestEntry declares one rule set. Active defaults to true.
type ManifestEntry struct {
	Name     string `toml:"name"`
	File     string `toml:"file"`
	Priority int    `toml:"priority"`
	Active   *bool  `toml:"active"`
	Default  bool   `toml:"default"`
}

// IsActive reports whether the entry is active.
func (e ManifestEntry) IsActive() bool {
	return e.Active == nil || *e.Active
}

// Manifest is the parsed rules.toml.
type Manifest struct {
	RuleSets []ManifestEntry `toml:"ruleset"`
}

// ReadManifest parses and validates dir/rules.toml.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.RuleSets))
	defaults := 0
	for i, e := range m.RuleSets {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("ruleset %d: name is required", i+1)
		}
		if seen[e.Name] {
			return fmt.Errorf("ruleset %q declared twice", e.Name)
		}
		seen[e.Name] = true
		if strings.TrimSpace(e.File) == "" {
			return fmt.Errorf("ruleset %q: file is required", e.Name)
		}
		if filepath.IsAbs(e.File) || strings.HasPrefix(filepath.Clean(e.File), "..") {
			return fmt.Errorf("ruleset %q: file must be inside the rules directory", e.Name)
		}
		if e.Default && e.IsActive() {
			defaults++
		}
	}
	if defaults > 1 {
		return ErrMultipleDefaults
	}
	return nil
}

// SyncDir upserts every rule set named in dir/rules.toml and reloads.
// Nothing is written unless every script compiles. Rule sets in the store
// that the manifest does not name are left untouched.
func (l *Loader) SyncDir(ctx context.Context, dir string) (*Report, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	sets := make([]*store.RuleSet, 0, len(m.RuleSets))
	var failures []error
	for _, e := range m.RuleSets {
		source, err := os.ReadFile(filepath.Join(dir, e.File))
		if err != nil {
			return nil, &RuleSetError{RuleSet: e.Name, Err: err}
		}
		if _, err := script.Compile(string(source)); err != nil {
			failures = append(failures, &RuleSetError{RuleSet: e.Name, Err: err})
			continue
		}
		sets = append(sets, &store.RuleSet{
			Name:       e.Name,
			SourceText: string(source),
			IsActive:   e.IsActive(),
			IsDefault:  e.Default,
			Priority:   e.Priority,
		})
	}
	if len(failures) > 0 {
		l.logger.Error("rules sync rejected", "dir", dir, "error", errors.Join(failures...))
		return nil, errors.Join(failures...)
	}

	// Demotions land before the new default so the unique default index never trips.
	sort.SliceStable(sets, func(i, j int) bool {
		return !isActiveDefault(sets[i]) && isActiveDefault(sets[j])
	})

	for _, rs := range sets {
		saveCtx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.store.SaveRuleSet(saveCtx, rs)
		cancel()
		if err != nil {
			return nil, &RuleSetError{RuleSet: rs.Name, Err: err}
		}
	}
	l.logger.Info("rules synced", "dir", dir, "rule_sets", len(sets))

	return l.Reload(ctx)
}

func isActiveDefault(rs *store.RuleSet) bool {
	return rs.IsActive && rs.IsDefault
}
