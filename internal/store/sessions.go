// ABOUTME: Session persistence for the SQLite store
// ABOUTME: Upserts per-user conversation state and remembers counters across closes

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetSession retrieves the session for a user.
// Returns ErrNotFound if the user has no open session.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	query := `
		SELECT user_id, current_topic, variables_json, last_interaction_at,
		       active_rule_set_id, session_count, created_at, updated_at
		FROM sessions
		WHERE user_id = ?
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var varsJSON, lastStr, createdStr, updatedStr string

	if err := row.Scan(
		&sess.UserID,
		&sess.CurrentTopic,
		&varsJSON,
		&lastStr,
		&sess.ActiveRuleSetID,
		&sess.SessionCount,
		&createdStr,
		&updatedStr,
	); err != nil {
		return nil, err
	}

	sess.Variables = map[string]string{}
	if varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &sess.Variables); err != nil {
			return nil, fmt.Errorf("unmarshaling variables: %w", err)
		}
	}

	var err error
	if sess.LastInteractionAt, err = parseTime(lastStr); err != nil {
		return nil, fmt.Errorf("parsing last_interaction_at: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// UpsertSession inserts or replaces the session for sess.UserID.
// The stored session_count and last_interaction_at never move backward.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.SessionCount < 1 {
		sess.SessionCount = 1
	}

	vars := sess.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshaling variables: %w", err)
	}

	query := `
		INSERT INTO sessions (user_id, current_topic, variables_json, last_interaction_at,
		                      active_rule_set_id, session_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_topic       = excluded.current_topic,
			variables_json      = excluded.variables_json,
			last_interaction_at = MAX(sessions.last_interaction_at, excluded.last_interaction_at),
			active_rule_set_id  = excluded.active_rule_set_id,
			session_count       = MAX(sessions.session_count, excluded.session_count),
			updated_at          = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sess.UserID,
		sess.CurrentTopic,
		string(varsJSON),
		formatTime(sess.LastInteractionAt),
		sess.ActiveRuleSetID,
		sess.SessionCount,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("upserted session", "user_id", sess.UserID, "session_count", sess.SessionCount)
	return nil
}

// DeleteSession removes the session for a user and records its counter in
// session_history so the next session continues the sequence.
// Returns ErrNotFound if the user has no open session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT session_count FROM sessions WHERE user_id = ?`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying session count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_history (user_id, last_session_count, closed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_session_count = MAX(session_history.last_session_count, excluded.last_session_count),
			closed_at          = excluded.closed_at
	`, userID, count, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("recording session history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session delete: %w", err)
	}

	s.logger.Debug("deleted session", "user_id", userID, "session_count", count)
	return nil
}

// LastSessionCount returns the highest session counter ever recorded for the user,
// looking at both the open session and the history table. Returns 0 when unknown.
func (s *SQLiteStore) LastSessionCount(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT MAX(n) FROM (
			SELECT session_count AS n FROM sessions WHERE user_id = ?
			UNION ALL
			SELECT last_session_count AS n FROM session_history WHERE user_id = ?
		)
	`

	var count sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, userID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("querying last session count: %w", err)
	}
	if !count.Valid {
		return 0, nil
	}
	return int(count.Int64), nil
}
