// ABOUTME: Fire-and-forget interaction audit recorder
// ABOUTME: Appends on a detached timeout context so a slow audit store never delays a reply

package recorder

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389/hearth/internal/store"
)

// FailureCounter is notified of every audit write that did not land.
type FailureCounter interface {
	AuditFailure()
}

// Recorder writes interaction records in the background.
type Recorder struct {
	store    store.InteractionStore
	timeout  time.Duration
	failures FailureCounter
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a recorder. failures may be nil.
func New(s store.InteractionStore, timeout time.Duration, failures FailureCounter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Recorder{
		store:    s,
		timeout:  timeout,
		failures: failures,
		logger:   logger.With("component", "recorder"),
	}
}

// Log queues rec for writing and returns immediately. The ID and CreatedAt
// are assigned here so callers can see them; confidence is clamped to [0,1].
func (r *Recorder) Log(rec *store.Interaction) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Confidence = clamp(rec.Confidence)

	c := *rec
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.write(&c)
	}()
}

func (r *Recorder) write(rec *store.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.AppendInteraction(ctx, rec); err != nil {
		r.logger.Error("failed to record interaction",
			"error", err,
			"id", rec.ID,
			"user_id", rec.UserID,
			"kind", rec.Kind,
		)
		if r.failures != nil {
			r.failures.AuditFailure()
		}
		return
	}
	r.logger.Debug("interaction recorded", "id", rec.ID, "kind", rec.Kind, "latency_ms", rec.LatencyMs)
}

// Wait blocks until queued writes finish or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
