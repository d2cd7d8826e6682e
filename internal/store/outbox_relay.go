package store

import (
	"context"
	"log/slog"
	"time"
)

// Relay defaults.
const (
	DefaultRelayInterval      = 2 * time.Second
	DefaultRelayBatch         = 20
	DefaultMaxPublishAttempts = 8
	DefaultClaimStaleness     = 5 * time.Minute

	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

// OutboxPublishFunc hands one claimed event to the event bus.
type OutboxPublishFunc func(ctx context.Context, ev OutboxEvent) error

// OutboxRelay drains the outbox into the event bus. Failed events are retried with
// capped exponential backoff and dead-lettered after too many attempts.
type OutboxRelay struct {
	repo        OutboxRepo
	publish     OutboxPublishFunc
	interval    time.Duration
	batch       int
	maxAttempts int
	staleness   time.Duration
	now         func() time.Time
}

// RelayOption configures an OutboxRelay.
type RelayOption func(*OutboxRelay)

// WithRelayInterval sets how often the relay polls for due events.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRelayBatch caps how many events one poll claims.
func WithRelayBatch(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithMaxPublishAttempts sets how many failed publishes dead-letter an event.
func WithMaxPublishAttempts(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRelayClock overrides time.Now.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *OutboxRelay) { r.now = now }
}

// NewOutboxRelay creates a relay publishing through publish.
func NewOutboxRelay(repo OutboxRepo, publish OutboxPublishFunc, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		repo:        repo,
		publish:     publish,
		interval:    DefaultRelayInterval,
		batch:       DefaultRelayBatch,
		maxAttempts: DefaultMaxPublishAttempts,
		staleness:   DefaultClaimStaleness,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReleaseStaleClaims returns events left claimed by a previous run to pending.
func (r *OutboxRelay) ReleaseStaleClaims() (int, error) {
	n, err := r.repo.ReleaseStaleOutboxClaims(r.now().Add(-r.staleness))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("OutboxRelay.ReleaseStaleClaims: released", "count", n)
	}
	return n, nil
}

// Run drains due events immediately and then every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	slog.Info("OutboxRelay.Run: starting", "interval", r.interval, "batch", r.batch)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Drain(ctx)
		select {
		case <-ctx.Done():
			slog.Info("OutboxRelay.Run: stopping")
			return
		case <-ticker.C:
		}
	}
}

// Drain publishes one batch of due events and reports how many were published.
func (r *OutboxRelay) Drain(ctx context.Context) int {
	now := r.now()
	due, err := r.repo.ClaimOutboxEvents(now, r.batch)
	if err != nil {
		slog.Error("OutboxRelay.Drain: claim failed", "error", err)
		return 0
	}

	published := 0
	for _, ev := range due {
		if ctx.Err() != nil {
			// Unfinished claims are released by the next ReleaseStaleClaims.
			return published
		}
		if err := r.publish(ctx, ev); err != nil {
			r.fail(ev, err, now)
			continue
		}
		if err := r.repo.MarkOutboxEventPublished(ev.ID); err != nil {
			slog.Error("OutboxRelay.Drain: mark published failed", "id", ev.ID, "event", ev.Name, "error", err)
			continue
		}
		published++
		slog.Debug("OutboxRelay.Drain: published", "id", ev.ID, "event", ev.Name, "channelID", ev.ChannelID)
	}
	return published
}

func (r *OutboxRelay) fail(ev OutboxEvent, cause error, now time.Time) {
	if ev.Attempts+1 >= r.maxAttempts {
		slog.Error("OutboxRelay.fail: giving up on event", "id", ev.ID, "event", ev.Name, "attempts", ev.Attempts+1, "error", cause)
		if err := r.repo.DeadLetterOutboxEvent(ev.ID, cause.Error()); err != nil {
			slog.Error("OutboxRelay.fail: dead-letter failed", "id", ev.ID, "error", err)
		}
		return
	}
	next := now.Add(retryDelay(ev.Attempts))
	slog.Warn("OutboxRelay.fail: publish failed, will retry", "id", ev.ID, "event", ev.Name, "next", next, "error", cause)
	if err := r.repo.RetryOutboxEvent(ev.ID, cause.Error(), next); err != nil {
		slog.Error("OutboxRelay.fail: reschedule failed", "id", ev.ID, "error", err)
	}
}

// retryDelay doubles from retryBaseDelay per prior attempt, capped at retryMaxDelay.
func retryDelay(attempts int) time.Duration {
	d := retryBaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}
