// Package events publishes workflow side effects (goal completions, fast-track starts,
// completion intents, contact capture) to the outside world. Publishing is at-most-once
// from the caller's point of view: Dispatch logs failures and never returns them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a named side effect with its context. On the wire the payload is flattened
// next to the fixed keys: {tenantId, channelId, goalId, timestamp, ...payload}.
type Event struct {
	ID        string
	Name      string
	TenantID  string
	ChannelID string
	GoalID    string
	Timestamp time.Time
	Payload   map[string]any
}

// New creates an event with a fresh id and the current time.
func New(name, tenantID, channelID, goalID string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		TenantID:  tenantID,
		ChannelID: channelID,
		GoalID:    goalID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// MarshalJSON flattens Payload into the top-level object. Fixed keys win over payload keys.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+6)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["eventId"] = e.ID
	out["event"] = e.Name
	out["tenantId"] = e.TenantID
	out["channelId"] = e.ChannelID
	out["goalId"] = e.GoalID
	out["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON; unknown keys land in Payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	str := func(k string) string {
		v, _ := raw[k].(string)
		delete(raw, k)
		return v
	}
	*e = Event{
		ID:        str("eventId"),
		Name:      str("event"),
		TenantID:  str("tenantId"),
		ChannelID: str("channelId"),
		GoalID:    str("goalId"),
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return err
		}
		e.Timestamp = t
	}
	if len(raw) > 0 {
		e.Payload = raw
	}
	return nil
}

// Publisher delivers events to a bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatch publishes every event and swallows failures after logging them, so a bus
// outage never fails a conversation turn. It returns the number of events published.
func Dispatch(ctx context.Context, pub Publisher, evs []Event) int {
	if pub == nil {
		return 0
	}
	sent := 0
	for _, ev := range evs {
		if err := pub.Publish(ctx, ev); err != nil {
			slog.Warn("events.Dispatch: publish failed", "error", err, "event", ev.Name,
				"channelID", ev.ChannelID, "goalID", ev.GoalID)
			continue
		}
		sent++
	}
	return sent
}

// LogPublisher writes events to the structured log. It is the default when no bus is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("event published", "event", ev.Name, "eventID", ev.ID, "tenantID", ev.TenantID,
		"channelID", ev.ChannelID, "goalID", ev.GoalID, "payload", ev.Payload)
	return nil
}

// MultiPublisher fans an event out to every publisher and joins their errors.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
