// ABOUTME: Receiving channel records for the SQLite store
// ABOUTME: Resolves lines by provider channel id and provisions defaults for unknown ones

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FindChannelByChannelID retrieves a channel by its provider channel id.
// Returns ErrNotFound if the channel is unknown.
func (s *SQLiteStore) FindChannelByChannelID(ctx context.Context, channelID string) (*Channel, error) {
	query := `
		SELECT id, channel_id, display_number, daily_limit, rate_per_second, is_active, created_at
		FROM channels
		WHERE channel_id = ?
	`

	var ch Channel
	var isActive int
	var createdStr string
	err := s.db.QueryRowContext(ctx, query, channelID).Scan(
		&ch.ID,
		&ch.ChannelID,
		&ch.DisplayNumber,
		&ch.DailyLimit,
		&ch.RatePerSecond,
		&isActive,
		&createdStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}

	ch.IsActive = isActive != 0
	if ch.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &ch, nil
}

// CreateDefaultChannel provisions a channel record.
// Generates ID and CreatedAt if not set. Returns ErrDuplicate if the channel id exists.
func (s *SQLiteStore) CreateDefaultChannel(ctx context.Context, ch *Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, channel_id, display_number, daily_limit, rate_per_second, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ch.ID,
		ch.ChannelID,
		ch.DisplayNumber,
		ch.DailyLimit,
		ch.RatePerSecond,
		boolToInt(ch.IsActive),
		formatTime(ch.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting channel: %w", err)
	}

	s.logger.Info("provisioned channel", "id", ch.ID, "channel_id", ch.ChannelID)
	return nil
}
