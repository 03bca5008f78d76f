// ABOUTME: Cron-driven upkeep jobs for the gateway
// ABOUTME: Prunes old message ledger rows; interactions are never pruned

package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs upkeep once an hour.
const DefaultSchedule = "@hourly"

// DefaultRetention is how long message ledger rows are kept.
const DefaultRetention = 30 * 24 * time.Hour

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a usable cron expression.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(normalize(expr)); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}

func normalize(expr string) string {
	expr = strings.Join(strings.Fields(expr), " ")
	if expr == "" {
		return DefaultSchedule
	}
	return expr
}

// Pruner deletes ledger rows older than a cutoff.
type Pruner interface {
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}

// Options configure the scheduler. Zero values fall back to defaults.
type Options struct {
	Schedule  string
	Retention time.Duration
	Timeout   time.Duration // per job, default 1m
	Now       func() time.Time
}

// Scheduler runs upkeep jobs on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	pruner    Pruner
	schedule  string
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a scheduler and registers its jobs. It fails on a bad schedule.
func New(pruner Pruner, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "maintenance")
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	clog := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		pruner:    pruner,
		schedule:  normalize(opts.Schedule),
		retention: opts.Retention,
		timeout:   opts.Timeout,
		now:       opts.Now,
		logger:    logger,
	}

	if _, err := s.cron.AddFunc(s.schedule, s.pruneJob); err != nil {
		return nil, fmt.Errorf("schedule message pruning %q: %w", s.schedule, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "schedule", s.schedule, "retention", s.retention)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

// PruneOnce deletes ledger rows older than the retention window.
func (s *Scheduler) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.pruner.PruneMessages(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

func (s *Scheduler) pruneJob() {
	n, err := s.PruneOnce(context.Background())
	if err != nil {
		s.logger.Error("message pruning failed", "error", err)
		return
	}
	s.logger.Info("pruned message ledger", "removed", n)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
