package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/util"
)

var _ OutboxRepo = (*SQLiteStore)(nil)

// SQLite compares timestamps as text, so every stored and compared time is UTC.

func (s *SQLiteStore) EnqueueOutboxEvent(ev OutboxEvent) (string, error) {
	id := util.GenerateRandomID("evt_", 24)
	if ev.EventID == "" {
		ev.EventID = id
	}
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO event_outbox (id, event_id, channel_id, name, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?) ON CONFLICT (event_id) DO NOTHING`,
		id, ev.EventID, ev.ChannelID, ev.Name, string(ev.Payload), now, now,
	); err != nil {
		return "", fmt.Errorf("enqueue outbox event %s: %w", ev.Name, err)
	}
	var stored string
	if err := s.db.QueryRow(`SELECT id FROM event_outbox WHERE event_id = ?`, ev.EventID).Scan(&stored); err != nil {
		return "", fmt.Errorf("read back outbox event %s: %w", ev.EventID, err)
	}
	if stored != id {
		slog.Debug("SQLiteStore.EnqueueOutboxEvent: already queued", "eventID", ev.EventID, "id", stored)
	}
	return stored, nil
}

func (s *SQLiteStore) ClaimOutboxEvents(now time.Time, limit int) ([]OutboxEvent, error) {
	now = now.UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT `+outboxColumns+` FROM event_outbox
		 WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at, id LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due outbox events: %w", err)
	}
	due, err := collectOutboxEvents(rows)
	if err != nil {
		return nil, err
	}
	for i := range due {
		if _, err := tx.Exec(
			`UPDATE event_outbox SET status = 'claimed', claimed_at = ?, updated_at = ? WHERE id = ?`,
			now, now, due[i].ID,
		); err != nil {
			return nil, fmt.Errorf("claim outbox event %s: %w", due[i].ID, err)
		}
		claimed := now
		due[i].Status = OutboxClaimed
		due[i].ClaimedAt = &claimed
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim: %w", err)
	}
	return due, nil
}

func (s *SQLiteStore) MarkOutboxEventPublished(id string) error {
	_, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'published', claimed_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox event %s published: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RetryOutboxEvent(id, lastError string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'pending', attempts = attempts + 1, last_error = ?,
		 next_attempt_at = ?, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		lastError, nextAttemptAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox event %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeadLetterOutboxEvent(id, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'dead', attempts = attempts + 1, last_error = ?,
		 claimed_at = NULL, updated_at = ? WHERE id = ?`,
		lastError, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("dead-letter outbox event %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseStaleOutboxClaims(claimedBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE event_outbox SET status = 'pending', claimed_at = NULL, updated_at = ?
		 WHERE status = 'claimed' AND claimed_at < ?`,
		time.Now().UTC(), claimedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale outbox claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
