package store

import "time"

// OutboxStatus is where a queued goal event is in its relay lifecycle.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxClaimed   OutboxStatus = "claimed"
	OutboxPublished OutboxStatus = "published"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxEvent is a goal event persisted next to the state change that produced it and
// relayed to the event bus afterwards. EventID is unique across the outbox.
type OutboxEvent struct {
	ID            string
	EventID       string
	ChannelID     string
	Name          string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt *time.Time
	ClaimedAt     *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxRepo persists goal events until they are published.
type OutboxRepo interface {
	// EnqueueOutboxEvent stores ev as pending and returns its row id. An EventID that
	// is already stored returns the existing row id and changes nothing.
	EnqueueOutboxEvent(ev OutboxEvent) (string, error)

	// ClaimOutboxEvents marks up to limit pending events that are due at now as
	// claimed and returns them oldest first.
	ClaimOutboxEvents(now time.Time, limit int) ([]OutboxEvent, error)

	// MarkOutboxEventPublished finishes a claimed event.
	MarkOutboxEventPublished(id string) error

	// RetryOutboxEvent returns a claimed event to pending, counts the failed attempt
	// and holds it back until nextAttemptAt.
	RetryOutboxEvent(id, lastError string, nextAttemptAt time.Time) error

	// DeadLetterOutboxEvent parks an event that will not be retried.
	DeadLetterOutboxEvent(id, lastError string) error

	// ReleaseStaleOutboxClaims returns events claimed before claimedBefore to pending.
	// Claims go stale when a relay dies between claiming and finishing.
	ReleaseStaleOutboxClaims(claimedBefore time.Time) (int, error)
}

const outboxColumns = `id, event_id, channel_id, name, payload, status, attempts, next_attempt_at, claimed_at, last_error, created_at, updated_at`
