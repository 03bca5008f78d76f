// ABOUTME: Watches the rules directory and re-syncs after edits settle
// ABOUTME: Bursts of filesystem events collapse into one sync per debounce window

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Syncer applies a rules directory.
type Syncer interface {
	SyncDir(ctx context.Context, dir string) (*Report, error)
}

// Watcher re-syncs a rules directory when its files change.
type Watcher struct {
	dir      string
	debounce time.Duration
	syncer   Syncer
	logger   *slog.Logger
}

// NewWatcher creates a watcher. debounce defaults to 500ms.
func NewWatcher(dir string, debounce time.Duration, syncer Syncer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		syncer:   syncer,
		logger:   logger.With("component", "rules-watcher"),
	}
}

// Run watches until ctx is done. Sync failures are logged and the watch continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("rules watcher started", "dir", w.dir, "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rules watcher stopped")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("rules changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("rules watcher error", "error", err)
		case <-timer.C:
			w.sync(ctx)
		}
	}
}

func (w *Watcher) sync(ctx context.Context) {
	report, err := w.syncer.SyncDir(ctx, w.dir)
	if err != nil {
		w.logger.Error("rules sync after change failed, keeping previous rules", "dir", w.dir, "error", err)
		return
	}
	w.logger.Info("rules reloaded after change", "rule_sets", len(report.RuleSets))
}

// relevant drops chmod-only events and editor scratch files.
func relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return true
}
