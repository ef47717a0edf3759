package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const patternColumns = `id, signature, status, success_count, failure_count,
	failure_streak, disabled, promoted_at, created_at, updated_at`

// RegisterPattern inserts a new pattern row.
func (t *Tx) RegisterPattern(ctx context.Context, p *pattern.Pattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validate pattern: %w", err)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO patterns (id, signature, status, success_count, failure_count,
			failure_streak, disabled, promoted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Signature, string(p.Status),
		p.Metrics.SuccessCount, p.Metrics.FailureCount, p.Metrics.FailureStreak,
		boolToInt(p.Metrics.Disabled), nullableTime(p.Metrics.PromotedAt),
		p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

// GetPattern loads one pattern by id.
func (t *Tx) GetPattern(ctx context.Context, id string) (*pattern.Pattern, error) {
	return getPattern(ctx, t.tx, id)
}

// ListByStatus returns all patterns currently in status, ordered by
// creation time for stable scans.
func (t *Tx) ListByStatus(ctx context.Context, status pattern.Status) ([]pattern.Pattern, error) {
	return listByStatus(ctx, t.tx, status)
}

// UpdateMetrics writes new rolling metrics for a pattern, conditioned
// on the pattern still holding expectedStatus. A concurrent status
// change surfaces as ErrStatusConflict so the caller can treat the
// race as a detectable no-op.
func (t *Tx) UpdateMetrics(ctx context.Context, id string, m pattern.MetricsState, expectedStatus pattern.Status) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validate metrics: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE patterns
		SET success_count = ?, failure_count = ?, failure_streak = ?,
			disabled = ?, promoted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		m.SuccessCount, m.FailureCount, m.FailureStreak,
		boolToInt(m.Disabled), nullableTime(m.PromotedAt),
		time.Now().UTC().Format(time.RFC3339Nano),
		id, string(expectedStatus))
	if err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}
	return checkConditioned(ctx, t.tx, res, id)
}

// TransitionStatus moves a pattern from one status to another,
// conditioned on the from-status still holding. promotedAt, when
// non-nil, stamps the promotion time alongside the status change.
func (t *Tx) TransitionStatus(ctx context.Context, id string, from, to pattern.Status, promotedAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE patterns
		SET status = ?, promoted_at = COALESCE(?, promoted_at), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), nullableTime(promotedAt),
		time.Now().UTC().Format(time.RFC3339Nano),
		id, string(from))
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	return checkConditioned(ctx, t.tx, res, id)
}

// Store-level read conveniences outside any transaction.

// GetPattern loads one pattern by id.
func (s *Store) GetPattern(ctx context.Context, id string) (*pattern.Pattern, error) {
	return getPattern(ctx, s.db, id)
}

// ListByStatus returns all patterns currently in status.
func (s *Store) ListByStatus(ctx context.Context, status pattern.Status) ([]pattern.Pattern, error) {
	return listByStatus(ctx, s.db, status)
}

// RegisterPattern inserts a new pattern in its own transaction.
func (s *Store) RegisterPattern(ctx context.Context, p *pattern.Pattern) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.RegisterPattern(ctx, p)
	})
}

func getPattern(ctx context.Context, q querier, id string) (*pattern.Pattern, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pattern.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

func listByStatus(ctx context.Context, q querier, status pattern.Status) ([]pattern.Pattern, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE status = ? ORDER BY created_at, id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []pattern.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(sc scanner) (*pattern.Pattern, error) {
	var (
		p          pattern.Pattern
		status     string
		disabled   int
		promotedAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := sc.Scan(&p.ID, &p.Signature, &status,
		&p.Metrics.SuccessCount, &p.Metrics.FailureCount, &p.Metrics.FailureStreak,
		&disabled, &promotedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = pattern.Status(status)
	p.Metrics.Disabled = disabled != 0
	if promotedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, promotedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse promoted_at: %w", err)
		}
		p.Metrics.PromotedAt = &ts
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

// checkConditioned distinguishes "pattern gone" from "status moved"
// after a conditioned UPDATE matched zero rows.
func checkConditioned(ctx context.Context, q querier, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM patterns WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return pattern.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check pattern existence: %w", err)
	}
	return ErrStatusConflict
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
