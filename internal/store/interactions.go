// ABOUTME: Interaction audit log for the SQLite store
// ABOUTME: Append-only record of every reply the engine produced, with tier and latency

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// AppendInteraction appends a new entry to the interaction log.
// Generates ID (ULID) and CreatedAt if not set.
func (s *SQLiteStore) AppendInteraction(ctx context.Context, rec *Interaction) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	query := `
		INSERT INTO interactions (id, user_id, input_text, output_text, kind,
		                          latency_ms, confidence, rule_set_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.InputText,
		rec.OutputText,
		string(rec.Kind),
		rec.LatencyMs,
		rec.Confidence,
		rec.RuleSetID,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}

	s.logger.Debug("appended interaction",
		"id", rec.ID,
		"user_id", rec.UserID,
		"kind", rec.Kind,
		"confidence", rec.Confidence,
	)
	return nil
}

// normalizeInteractionLimit applies default (100) and cap (1000) to the limit.
func normalizeInteractionLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const interactionQuery = `
	SELECT id, user_id, input_text, output_text, kind, latency_ms, confidence, rule_set_id, created_at
	FROM interactions
	WHERE (? IS NULL OR user_id = ?)
	  AND (? IS NULL OR kind = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY id ASC
	LIMIT ?
`

// ListInteractions returns interactions matching the filter, oldest first.
func (s *SQLiteStore) ListInteractions(ctx context.Context, f InteractionFilter) ([]*Interaction, error) {
	var kindStr, sinceStr *string
	if f.Kind != nil {
		k := string(*f.Kind)
		kindStr = &k
	}
	if f.Since != nil {
		sinceStr = formatOptionalTime(f.Since)
	}

	rows, err := s.db.QueryContext(ctx, interactionQuery,
		f.UserID, f.UserID,
		kindStr, kindStr,
		sinceStr, sinceStr,
		normalizeInteractionLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Interaction
	for rows.Next() {
		var rec Interaction
		var kind, createdStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.InputText,
			&rec.OutputText,
			&kind,
			&rec.LatencyMs,
			&rec.Confidence,
			&rec.RuleSetID,
			&createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		rec.Kind = InteractionKind(kind)
		if rec.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interactions: %w", err)
	}

	if out == nil {
		out = []*Interaction{}
	}
	return out, nil
}
