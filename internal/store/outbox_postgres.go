package store

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/util"
)

var _ OutboxRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueOutboxEvent(ev OutboxEvent) (string, error) {
	id := util.GenerateRandomID("evt_", 24)
	if ev.EventID == "" {
		ev.EventID = id
	}
	now := time.Now()
	// The no-op update makes RETURNING yield the existing row on conflict.
	var stored string
	err := s.db.QueryRow(
		`INSERT INTO event_outbox (id, event_id, channel_id, name, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
		 ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		 RETURNING id`,
		id, ev.EventID, ev.ChannelID, ev.Name, string(ev.Payload), now,
	).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox event %s: %w", ev.Name, err)
	}
	if stored != id {
		slog.Debug("PostgresStore.EnqueueOutboxEvent: already queued", "eventID", ev.EventID, "id", stored)
	}
	return stored, nil
}

// ClaimOutboxEvents skips rows locked by a concurrent claimer, so several relays can
// share one database.
func (s *PostgresStore) ClaimOutboxEvents(now time.Time, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.Query(
		`WITH due AS (
		   SELECT id AS due_id FROM event_outbox
		   WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at, id LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE event_outbox SET status = 'claimed', claimed_at = $1, updated_at = $1
		 FROM due WHERE id = due_id
		 RETURNING `+outboxColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox events: %w", err)
	}
	due, err := collectOutboxEvents(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (s *PostgresStore) MarkOutboxEventPublished(id string) error {
	if _, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'published', claimed_at = NULL, updated_at = now() WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("mark outbox event %s published: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RetryOutboxEvent(id, lastError string, nextAttemptAt time.Time) error {
	if _, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'pending', attempts = attempts + 1, last_error = $2,
		 next_attempt_at = $3, claimed_at = NULL, updated_at = now() WHERE id = $1`,
		id, lastError, nextAttemptAt,
	); err != nil {
		return fmt.Errorf("reschedule outbox event %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) DeadLetterOutboxEvent(id, lastError string) error {
	if _, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'dead', attempts = attempts + 1, last_error = $2,
		 claimed_at = NULL, updated_at = now() WHERE id = $1`,
		id, lastError,
	); err != nil {
		return fmt.Errorf("dead-letter outbox event %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ReleaseStaleOutboxClaims(claimedBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'pending', claimed_at = NULL, updated_at = now()
		 WHERE status = 'claimed' AND claimed_at < $1`,
		claimedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale outbox claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
