// ABOUTME: Conversation session state machine: get-or-create, expiry restart, close and touch
// ABOUTME: Storage failures fail open into a fresh in-memory session so replies never block

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/hearth/internal/store"
)

// RestartTopic is set on a session that was just restarted after expiry.
const RestartTopic = "session_restart"

// Variables written on restart.
const (
	VarRestartPreviousAt = "restart_previous_at"
	VarRestartMessage    = "restart_message"
)

// Options configure a Manager.
type Options struct {
	Timeout        time.Duration // idle time after which a session expires
	CloseCommands  []string
	StorageTimeout time.Duration
	Now            func() time.Time
}

// Manager owns the per-user session lifecycle.
type Manager struct {
	store          store.SessionStore
	timeout        time.Duration
	closeCommands  []string
	storageTimeout time.Duration
	now            func() time.Time
	locks          *KeyedMutex
	logger         *slog.Logger
}

// NewManager creates a session manager backed by s.
func NewManager(s store.SessionStore, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 24 * time.Hour
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cmds := make([]string, 0, len(opts.CloseCommands))
	for _, c := range opts.CloseCommands {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cmds = append(cmds, c)
		}
	}

	return &Manager{
		store:          s,
		timeout:        opts.Timeout,
		closeCommands:  cmds,
		storageTimeout: opts.StorageTimeout,
		now:            opts.Now,
		locks:          NewKeyedMutex(),
		logger:         logger.With("component", "session"),
	}
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// Lock serializes processing for one user.
func (m *Manager) Lock(userID string) (unlock func()) {
	return m.locks.Lock(userID)
}

func (m *Manager) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storageTimeout)
}

// GetOrCreate returns the user's session. created is true when a new
// session was started, in which case it has not been saved yet.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (sess *store.Session, created bool) {
	sctx, cancel := m.storageCtx(ctx)
	defer cancel()

	existing, err := m.store.GetSession(sctx, userID)
	if err == nil {
		if existing.Variables == nil {
			existing.Variables = make(map[string]string)
		}
		return existing, false
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("session read failed, starting fresh session", "user_id", userID, "error", err)
		return m.fresh(userID, 1), true
	}

	count, err := m.store.LastSessionCount(sctx, userID)
	if err != nil {
		m.logger.Warn("session history read failed, counting from 1", "user_id", userID, "error", err)
		count = 0
	}
	return m.fresh(userID, count+1), true
}

func (m *Manager) fresh(userID string, count int) *store.Session {
	now := m.Now()
	return &store.Session{
		UserID:            userID,
		Variables:         make(map[string]string),
		LastInteractionAt: now,
		SessionCount:      count,
		CreatedAt:         now,
	}
}

// IsExpired reports whether the session has been idle longer than the timeout.
func (m *Manager) IsExpired(sess *store.Session, now time.Time) bool {
	return now.Sub(sess.LastInteractionAt) > m.timeout
}

// IsCloseCommand reports whether the message contains a close phrase.
func (m *Manager) IsCloseCommand(message string) bool {
	lower := strings.ToLower(message)
	for _, c := range m.closeCommands {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// Restart begins a new epoch for an expired session and saves it.
func (m *Manager) Restart(ctx context.Context, sess *store.Session, message string) *store.Session {
	now := m.Now()
	previous := sess.LastInteractionAt

	topic := RestartTopic
	sess.SessionCount++
	sess.CurrentTopic = &topic
	sess.ActiveRuleSetID = nil
	sess.Variables = map[string]string{
		VarRestartPreviousAt: previous.UTC().Format(time.RFC3339),
		VarRestartMessage:    message,
	}
	sess.LastInteractionAt = now

	m.logger.Info("session restarted",
		"user_id", sess.UserID,
		"session_count", sess.SessionCount,
		"idle", now.Sub(previous).Round(time.Second),
	)
	m.Save(ctx, sess)
	return sess
}

// Close deletes the session. The store keeps its counter for the next session.
func (m *Manager) Close(ctx context.Context, sess *store.Session) {
	sctx, cancel := m.storageCtx(ctx)
	defer cancel()

	err := m.store.DeleteSession(sctx, sess.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("failed to delete session", "user_id", sess.UserID, "error", err)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		// never saved: remember the counter anyway so the next session continues it
		m.Save(ctx, sess)
		if err := m.store.DeleteSession(sctx, sess.UserID); err != nil {
			m.logger.Warn("failed to delete session", "user_id", sess.UserID, "error", err)
			return
		}
	}
	m.logger.Info("session closed", "user_id", sess.UserID, "session_count", sess.SessionCount)
}

// Touch moves the last interaction forward to now; it never moves back.
func (m *Manager) Touch(sess *store.Session, now time.Time) {
	if now.After(sess.LastInteractionAt) {
		sess.LastInteractionAt = now
	}
}

// Save upserts the session. Failures are logged and otherwise ignored.
func (m *Manager) Save(ctx context.Context, sess *store.Session) {
	sctx, cancel := m.storageCtx(ctx)
	defer cancel()

	if err := m.store.UpsertSession(sctx, sess); err != nil {
		m.logger.Warn("failed to save session", "user_id", sess.UserID, "error", err)
	}
}
