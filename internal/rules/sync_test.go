// ABOUTME: Tests for rules directory sync and manifest validation
// ABOUTME: Uses temp directories with rules.toml plus script files

package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth/internal/store"
)

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

const twoSetManifest = `
[[ruleset]]
name = "main"
file = "main.rive"
priority = 10
default = true

[[ruleset]]
name = "promos"
file = "promos.rive"
priority = 20
active = false
`

func TestSyncDir_StoresAndReloads(t *testing.T) {
	dir := writeDir(t, map[string]string{
		ManifestFile:  twoSetManifest,
		"main.rive":   helloScript,
		"promos.rive": "+ promo\n- 2x1 today\n",
	})
	st := store.NewMockStore()
	target := &fakeTarget{}
	l := NewLoader(st, target, nil, time.Second, nil)

	report, err := l.SyncDir(context.Background(), dir)
	require.NoError(t, err)

	main, err := st.GetRuleSetByName(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, helloScript, main.SourceText)
	assert.Equal(t, 10, main.Priority)
	assert.True(t, main.IsDefault)
	assert.True(t, main.IsActive)

	promos, err := st.GetRuleSetByName(context.Background(), "promos")
	require.NoError(t, err)
	assert.False(t, promos.IsActive)

	require.Len(t, report.RuleSets, 1, "inactive sets are stored but not loaded")
	assert.Equal(t, "main", report.RuleSets[0].Name)
	assert.Equal(t, 1, target.last().Len())
}

func TestSyncDir_AllOrNothing(t *testing.T) {
	dir := writeDir(t, map[string]string{
		ManifestFile:  twoSetManifest,
		"main.rive":   helloScript,
		"promos.rive": "- orphan\n> topic\n",
	})
	st := store.NewMockStore()
	target := &fakeTarget{}

	_, err := NewLoader(st, target, nil, time.Second, nil).SyncDir(context.Background(), dir)
	require.Error(t, err)

	diags, ok := Diagnostics(err)
	require.True(t, ok)
	assert.NotEmpty(t, diags)
	assert.Contains(t, err.Error(), `"promos"`)

	all, err := st.ListRuleSets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, target.swaps())
}

func TestSyncDir_MissingScript(t *testing.T) {
	dir := writeDir(t, map[string]string{
		ManifestFile: twoSetManifest,
		"main.rive":  helloScript,
	})

	_, err := NewLoader(store.NewMockStore(), &fakeTarget{}, nil, time.Second, nil).SyncDir(context.Background(), dir)
	var rserr *RuleSetError
	require.ErrorAs(t, err, &rserr)
	assert.Equal(t, "promos", rserr.RuleSet)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSyncDir_MovesDefault(t *testing.T) {
	st := store.NewMockStore()
	l := NewLoader(st, &fakeTarget{}, nil, time.Second, nil)

	first := writeDir(t, map[string]string{
		ManifestFile: `
[[ruleset]]
name = "a"
file = "a.rive"
default = true

[[ruleset]]
name = "b"
file = "b.rive"
`,
		"a.rive": helloScript,
		"b.rive": helloScript,
	})
	_, err := l.SyncDir(context.Background(), first)
	require.NoError(t, err)

	second := writeDir(t, map[string]string{
		ManifestFile: `
[[ruleset]]
name = "b"
file = "b.rive"
default = true

[[ruleset]]
name = "a"
file = "a.rive"
`,
		"a.rive": helloScript,
		"b.rive": helloScript,
	})
	report, err := l.SyncDir(context.Background(), second)
	require.NoError(t, err)

	defaults := 0
	for _, rs := range report.RuleSets {
		if rs.Default {
			defaults++
			assert.Equal(t, "b", rs.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSyncDir_LeavesUnlistedSets(t *testing.T) {
	st := store.NewMockStore()
	save(t, st, "imported", helloScript, 5, false, true)

	dir := writeDir(t, map[string]string{
		ManifestFile: "[[ruleset]]\nname = \"main\"\nfile = \"main.rive\"\n",
		"main.rive":  helloScript,
	})
	report, err := NewLoader(st, &fakeTarget{}, nil, time.Second, nil).SyncDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, report.RuleSets, 2)
}

func TestReadManifest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{"missing name", "[[ruleset]]\nfile = \"a.rive\"\n", "name is required"},
		{"missing file", "[[ruleset]]\nname = \"a\"\n", "file is required"},
		{"duplicate", "[[ruleset]]\nname = \"a\"\nfile = \"a.rive\"\n[[ruleset]]\nname = \"a\"\nfile = \"b.rive\"\n", "declared twice"},
		{"absolute path", "[[ruleset]]\nname = \"a\"\nfile = \"/etc/passwd\"\n", "inside the rules directory"},
		{"parent path", "[[ruleset]]\nname = \"a\"\nfile = \"../a.rive\"\n", "inside the rules directory"},
		{"two defaults", "[[ruleset]]\nname = \"a\"\nfile = \"a.rive\"\ndefault = true\n[[ruleset]]\nname = \"b\"\nfile = \"b.rive\"\ndefault = true\n", "more than one active default"},
		{"unknown key", "[[ruleset]]\nname = \"a\"\nfile = \"a.rive\"\nweight = 3\n", "unknown keys"},
		{"bad toml", "[[ruleset]\n", "reading"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeDir(t, map[string]string{ManifestFile: tt.manifest})
			_, err := ReadManifest(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadManifest_InactiveDefaultsDoNotConflict(t *testing.T) {
	dir := writeDir(t, map[string]string{ManifestFile: `
[[ruleset]]
name = "a"
file = "a.rive"
default = true

[[ruleset]]
name = "b"
file = "b.rive"
default = true
active = false
`})
	m, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Len(t, m.RuleSets, 2)
	assert.True(t, m.RuleSets[0].IsActive())
	assert.False(t, m.RuleSets[1].IsActive())
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
