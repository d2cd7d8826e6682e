package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// TrackingState is the per-channel state of the interruption tracker.
type TrackingState string

const (
	StateIdle     TrackingState = "IDLE"
	StateTracking TrackingState = "TRACKING"
)

// DefaultTrackingTTL bounds how long an abandoned response keeps its snapshot.
const DefaultTrackingTTL = 10 * time.Minute

type trackingEntry struct {
	responseID string
	snapshot   models.StateSnapshot
	startedAt  time.Time
	timerID    string
}

// InterruptionTracker remembers, per channel, which response is currently in flight and
// the state snapshot taken when it started. A newer message supersedes the older response;
// the caller rolls the state back to the stored snapshot before starting the new turn.
type InterruptionTracker struct {
	mu      sync.Mutex
	entries map[string]*trackingEntry
	timer   Timer
	ttl     time.Duration
}

// TrackerOption configures an InterruptionTracker.
type TrackerOption func(*InterruptionTracker)

// WithTrackingTTL sets how long a tracking entry lives without being cleared.
func WithTrackingTTL(ttl time.Duration) TrackerOption {
	return func(t *InterruptionTracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// NewInterruptionTracker creates a tracker that expires entries through timer.
func NewInterruptionTracker(timer Timer, opts ...TrackerOption) *InterruptionTracker {
	t := &InterruptionTracker{
		entries: make(map[string]*trackingEntry),
		timer:   timer,
		ttl:     DefaultTrackingTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTracking makes responseID the live response for channelID, superseding any
// previous one.
func (t *InterruptionTracker) StartTracking(channelID, responseID string, snap models.StateSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[channelID]; ok {
		slog.Debug("InterruptionTracker.StartTracking: superseding response", "channelID", channelID,
			"previous", prev.responseID, "next", responseID)
		t.cancelTimer(prev)
	}

	entry := &trackingEntry{responseID: responseID, snapshot: snap, startedAt: time.Now()}
	if t.timer != nil {
		id, err := t.timer.ScheduleAfter(t.ttl, func() { t.ClearIfOwner(channelID, responseID) })
		if err != nil {
			slog.Warn("InterruptionTracker.StartTracking: expiry timer not scheduled", "error", err, "channelID", channelID)
		}
		entry.timerID = id
	}
	t.entries[channelID] = entry
}

// IsResponseValid reports whether responseID is still the live response for channelID.
func (t *InterruptionTracker) IsResponseValid(channelID, responseID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[channelID]
	return ok && e.responseID == responseID
}

// Snapshot returns the snapshot of the live response, if any.
func (t *InterruptionTracker) Snapshot(channelID string) (models.StateSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[channelID]
	if !ok {
		return models.StateSnapshot{}, false
	}
	return e.snapshot, true
}

// State returns IDLE or TRACKING for channelID.
func (t *InterruptionTracker) State(channelID string) TrackingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[channelID]; ok {
		return StateTracking
	}
	return StateIdle
}

// ClearTracking returns channelID to IDLE.
func (t *InterruptionTracker) ClearTracking(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[channelID]; ok {
		t.cancelTimer(e)
		delete(t.entries, channelID)
	}
}

// ClearIfOwner clears channelID only while responseID is still the live response, so a
// finished response never clears the tracking of the one that superseded it.
func (t *InterruptionTracker) ClearIfOwner(channelID, responseID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[channelID]
	if !ok || e.responseID != responseID {
		return false
	}
	t.cancelTimer(e)
	delete(t.entries, channelID)
	return true
}

// Tracking returns the number of channels currently in TRACKING.
func (t *InterruptionTracker) Tracking() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// cancelTimer must be called with t.mu held.
func (t *InterruptionTracker) cancelTimer(e *trackingEntry) {
	if t.timer != nil && e.timerID != "" {
		_ = t.timer.Cancel(e.timerID)
	}
}
