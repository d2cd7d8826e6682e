package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

// OutboxPublisher persists events to the durable outbox instead of publishing them
// directly. A Relay drains the outbox to the real bus with retries.
type OutboxPublisher struct {
	repo store.OutboxRepo
}

// NewOutboxPublisher creates a publisher backed by repo.
func NewOutboxPublisher(repo store.OutboxRepo) *OutboxPublisher {
	return &OutboxPublisher{repo: repo}
}

// Publish implements Publisher. The event id is the dedupe key, so re-enqueueing the
// same event is a no-op.
func (p *OutboxPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Name, err)
	}
	row := store.OutboxEvent{EventID: ev.ID, ChannelID: ev.ChannelID, Name: ev.Name, Payload: data}
	if _, err := p.repo.EnqueueOutboxEvent(row); err != nil {
		return fmt.Errorf("enqueue event %s: %w", ev.Name, err)
	}
	return nil
}

// Relay returns an OutboxPublishFunc that decodes queued events and hands them to next.
func Relay(next Publisher) store.OutboxPublishFunc {
	return func(ctx context.Context, row store.OutboxEvent) error {
		var ev Event
		if err := json.Unmarshal(row.Payload, &ev); err != nil {
			return fmt.Errorf("decode outbox event %s: %w", row.ID, err)
		}
		return next.Publish(ctx, ev)
	}
}
