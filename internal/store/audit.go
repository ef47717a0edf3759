package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// InsertTransition appends one audit row. Rows are write-once; there is
// no update path.
func (t *Tx) InsertTransition(ctx context.Context, tr pattern.Transition) error {
	snap, err := json.Marshal(tr.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal gate snapshot: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO lifecycle_transitions (transition_id, pattern_id, from_status,
			to_status, transition_trigger, actor_name, actor_type, reason,
			request_id, correlation_id, gate_snapshot, transitioned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TransitionID, tr.PatternID, string(tr.FromStatus), string(tr.ToStatus),
		string(tr.Trigger), tr.Actor.Name, string(tr.Actor.Type), tr.Reason,
		tr.RequestID, tr.CorrelationID, string(snap),
		tr.TransitionedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert transition audit row: %w", err)
	}
	return nil
}

// MarkEventProcessed records an inbound event id, reporting whether it
// had been seen before. The insert-if-absent runs inside the caller's
// transaction, so a replayed event is detected atomically with the
// state mutation it would have caused.
func (t *Tx) MarkEventProcessed(ctx context.Context, eventID string) (alreadySeen bool, err error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (event_id, processed_at)
		VALUES (?, ?)`,
		eventID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("record event id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 0, nil
}

// ListTransitions returns the audit history for one pattern, oldest
// first.
func (s *Store) ListTransitions(ctx context.Context, patternID string) ([]pattern.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transition_id, pattern_id, from_status, to_status, transition_trigger,
			actor_name, actor_type, reason, request_id, correlation_id,
			gate_snapshot, transitioned_at
		FROM lifecycle_transitions
		WHERE pattern_id = ?
		ORDER BY transitioned_at, transition_id`, patternID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []pattern.Transition
	for rows.Next() {
		var (
			tr            pattern.Transition
			from, to      string
			trigger       string
			actorType     string
			reason        sql.NullString
			correlationID sql.NullString
			snap          string
			at            string
		)
		if err := rows.Scan(&tr.TransitionID, &tr.PatternID, &from, &to, &trigger,
			&tr.Actor.Name, &actorType, &reason, &tr.RequestID, &correlationID,
			&snap, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.FromStatus = pattern.Status(from)
		tr.ToStatus = pattern.Status(to)
		tr.Trigger = pattern.Trigger(trigger)
		tr.Actor.Type = pattern.ActorType(actorType)
		tr.Reason = reason.String
		tr.CorrelationID = correlationID.String
		if err := json.Unmarshal([]byte(snap), &tr.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal gate snapshot: %w", err)
		}
		if tr.TransitionedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse transitioned_at: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// PruneProcessedEvents deletes idempotency records older than the
// retention horizon and returns how many were removed.
func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	return res.RowsAffected()
}
