// ABOUTME: Provider message ledger for the SQLite store
// ABOUTME: The provider message id primary key is the authoritative dedup constraint

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MessageExists reports whether a message with the provider id was already recorded.
func (s *SQLiteStore) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE provider_message_id = ? LIMIT 1`,
		providerMessageID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking message existence: %w", err)
	}
	return true, nil
}

// CreateMessage records a provider message.
// Returns ErrDuplicate if the provider id was already recorded.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	if msg.ProviderTimestamp.IsZero() {
		msg.ProviderTimestamp = msg.CreatedAt
	}
	if msg.Status == "" {
		msg.Status = StatusReceived
	}

	query := `
		INSERT INTO messages (provider_message_id, channel_id, user_id, direction, kind,
		                      content, status, provider_timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ProviderMessageID,
		msg.ChannelID,
		msg.UserID,
		msg.Direction,
		msg.Kind,
		msg.Content,
		msg.Status,
		formatTime(msg.ProviderTimestamp),
		formatTime(msg.CreatedAt),
		formatTime(msg.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message",
		"provider_message_id", msg.ProviderMessageID,
		"direction", msg.Direction,
		"kind", msg.Kind,
	)
	return nil
}

// UpdateMessageStatus sets the delivery status of a recorded message.
// Returns ErrNotFound if the provider id is unknown.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, providerMessageID, status string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE provider_message_id = ?
	`, status, formatTime(at), providerMessageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneMessages deletes ledger rows created before the cutoff and returns how many were removed.
func (s *SQLiteStore) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}
