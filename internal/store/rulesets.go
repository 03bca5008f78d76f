// ABOUTME: Rule set persistence for the SQLite store
// ABOUTME: Lists active flows by priority, upserts by name and tracks usage counters

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ruleSetColumns = `id, name, source_text, is_active, is_default, priority,
	usage_count, last_used_at, created_at, updated_at`

func scanRuleSet(row rowScanner) (*RuleSet, error) {
	var rs RuleSet
	var isActive, isDefault int
	var lastUsedStr *string
	var createdStr, updatedStr string

	if err := row.Scan(
		&rs.ID,
		&rs.Name,
		&rs.SourceText,
		&isActive,
		&isDefault,
		&rs.Priority,
		&rs.UsageCount,
		&lastUsedStr,
		&createdStr,
		&updatedStr,
	); err != nil {
		return nil, err
	}

	rs.IsActive = isActive != 0
	rs.IsDefault = isDefault != 0

	var err error
	if rs.LastUsedAt, err = parseOptionalTime(lastUsedStr); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	if rs.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rs.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rs, nil
}

func (s *SQLiteStore) queryRuleSets(ctx context.Context, query string, args ...any) ([]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rule sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sets []*RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule set: %w", err)
		}
		sets = append(sets, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule sets: %w", err)
	}
	return sets, nil
}

// ListActiveRuleSets returns active rule sets ordered by ascending priority.
func (s *SQLiteStore) ListActiveRuleSets(ctx context.Context) ([]*RuleSet, error) {
	return s.queryRuleSets(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE is_active = 1
		ORDER BY priority ASC, is_default DESC, name ASC
	`)
}

// ListRuleSets returns every rule set, active or not, ordered by priority.
func (s *SQLiteStore) ListRuleSets(ctx context.Context) ([]*RuleSet, error) {
	return s.queryRuleSets(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		ORDER BY priority ASC, name ASC
	`)
}

// GetRuleSetByName retrieves a rule set by its unique name.
// Returns ErrNotFound if no such rule set exists.
func (s *SQLiteStore) GetRuleSetByName(ctx context.Context, name string) (*RuleSet, error) {
	rs, err := scanRuleSet(s.db.QueryRowContext(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE name = ?
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule set: %w", err)
	}
	return rs, nil
}

// SaveRuleSet inserts a rule set or updates the existing one with the same name.
// Usage counters are preserved on update. Generates ID and timestamps if not set.
// Returns ErrDefaultConflict if this would create a second active default.
func (s *SQLiteStore) SaveRuleSet(ctx context.Context, rs *RuleSet) error {
	now := time.Now().UTC()
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now

	query := `
		INSERT INTO rule_sets (id, name, source_text, is_active, is_default, priority,
		                       usage_count, last_used_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source_text = excluded.source_text,
			is_active   = excluded.is_active,
			is_default  = excluded.is_default,
			priority    = excluded.priority,
			updated_at  = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rs.ID,
		rs.Name,
		rs.SourceText,
		boolToInt(rs.IsActive),
		boolToInt(rs.IsDefault),
		rs.Priority,
		formatTime(rs.CreatedAt),
		formatTime(rs.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && isDefaultIndexViolation(err) {
			return ErrDefaultConflict
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("saving rule set: %w", err)
	}

	// On update the stored id wins over the generated one
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM rule_sets WHERE name = ?`, rs.Name).Scan(&rs.ID); err != nil {
		return fmt.Errorf("reading rule set id: %w", err)
	}

	s.logger.Debug("saved rule set", "id", rs.ID, "name", rs.Name, "priority", rs.Priority)
	return nil
}

// isDefaultIndexViolation reports whether a constraint error came from the
// single-default partial index rather than the id or name keys.
func isDefaultIndexViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "is_default") || strings.Contains(msg, "idx_rule_sets_single_default")
}

// IncrementRuleSetUsage bumps the usage counter and last-used timestamp.
// Returns ErrNotFound if the rule set doesn't exist.
func (s *SQLiteStore) IncrementRuleSetUsage(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rule_sets
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("incrementing rule set usage: %w", err)
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
