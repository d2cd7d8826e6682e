// Package store provides storage backends for LeadPipe.
//
// It includes an in-memory store plus SQLite, PostgreSQL and Badger backends for
// per-channel workflow state documents, delivery receipts, the event outbox and
// inbound message deduplication.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// WorkflowStateRepo is the key-value contract behind the goal state store.
// Documents are opaque JSON keyed by channel id; there are no transactions.
type WorkflowStateRepo interface {
	// GetWorkflowState returns the stored document and whether one exists.
	GetWorkflowState(channelID string) ([]byte, bool, error)
	// PutWorkflowState fully overwrites the document for channelID.
	PutWorkflowState(channelID string, data []byte) error
}

// WorkflowStatePruner removes documents that have not been written since a cutoff.
type WorkflowStatePruner interface {
	PruneWorkflowStates(olderThan time.Time) (int, error)
}

// Store is implemented by every backend.
type Store interface {
	WorkflowStateRepo
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	Close() error
}

// PersistenceProvider exposes the durable repositories a backend offers.
type PersistenceProvider interface {
	WorkflowStateRepo() WorkflowStateRepo
	OutboxRepo() OutboxRepo
	DedupRepo() DedupRepo
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN      string        // data source name or directory path
	StateTTL time.Duration // badger only; zero keeps documents forever
	DedupTTL time.Duration // badger only
}

// Option defines a function for configuring a store backend.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithBadgerDir sets the Badger data directory. An empty directory means in-memory.
func WithBadgerDir(dir string) Option {
	return func(o *Opts) {
		o.DSN = dir
	}
}

// WithStateTTL expires workflow state documents after ttl of inactivity.
func WithStateTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.StateTTL = ttl
	}
}

// WithDedupTTL sets how long inbound message ids are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.DedupTTL = ttl
	}
}

type memoryDoc struct {
	data      []byte
	updatedAt time.Time
}

// InMemoryStore is a process-local store used in tests and when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts []models.Receipt
	states   map[string]memoryDoc
	outbox   map[string]*OutboxEvent
	eventIDs map[string]string
	dedup    map[string]*DedupRecord
	now      func() time.Time
}

// Compile-time checks for InMemoryStore.
var (
	_ Store               = (*InMemoryStore)(nil)
	_ PersistenceProvider = (*InMemoryStore)(nil)
	_ WorkflowStatePruner = (*InMemoryStore)(nil)
	_ OutboxRepo          = (*InMemoryStore)(nil)
	_ DedupRepo           = (*InMemoryStore)(nil)
	_ DedupPruner         = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]memoryDoc),
		outbox:   make(map[string]*OutboxEvent),
		eventIDs: make(map[string]string),
		dedup:  make(map[string]*DedupRecord),
		now:    time.Now,
	}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) GetWorkflowState(channelID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.states[channelID]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(doc.data))
	copy(out, doc.data)
	return out, true, nil
}

func (s *InMemoryStore) PutWorkflowState(channelID string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[channelID] = memoryDoc{data: buf, updatedAt: s.now()}
	return nil
}

func (s *InMemoryStore) PruneWorkflowStates(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, doc := range s.states {
		if doc.updatedAt.Before(olderThan) {
			delete(s.states, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueOutboxEvent(ev OutboxEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.eventIDs[ev.EventID]; ok && ev.EventID != "" {
		return id, nil
	}
	id := util.GenerateRandomID("evt_", 24)
	if ev.EventID == "" {
		ev.EventID = id
	}
	now := s.now()
	stored := OutboxEvent{
		ID: id, EventID: ev.EventID, ChannelID: ev.ChannelID, Name: ev.Name,
		Payload: append([]byte(nil), ev.Payload...), Status: OutboxPending, CreatedAt: now, UpdatedAt: now,
	}
	s.outbox[id] = &stored
	s.eventIDs[ev.EventID] = id
	return id, nil
}

func (s *InMemoryStore) ClaimOutboxEvents(now time.Time, limit int) ([]OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxEvent
	for _, ev := range s.outbox {
		if ev.Status == OutboxPending && (ev.NextAttemptAt == nil || !ev.NextAttemptAt.After(now)) {
			due = append(due, ev)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxEvent, 0, len(due))
	for _, ev := range due {
		claimed := now
		ev.Status = OutboxClaimed
		ev.ClaimedAt = &claimed
		ev.UpdatedAt = now
		out = append(out, *ev)
	}
	return out, nil
}

// finishOutboxEvent applies fn to a stored event under the lock.
func (s *InMemoryStore) finishOutboxEvent(id string, fn func(ev *OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.outbox[id]; ok {
		fn(ev)
		ev.ClaimedAt = nil
		ev.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) MarkOutboxEventPublished(id string) error {
	return s.finishOutboxEvent(id, func(ev *OutboxEvent) { ev.Status = OutboxPublished })
}

func (s *InMemoryStore) RetryOutboxEvent(id, lastError string, nextAttemptAt time.Time) error {
	return s.finishOutboxEvent(id, func(ev *OutboxEvent) {
		next := nextAttemptAt
		ev.Status = OutboxPending
		ev.Attempts++
		ev.LastError = lastError
		ev.NextAttemptAt = &next
	})
}

func (s *InMemoryStore) DeadLetterOutboxEvent(id, lastError string) error {
	return s.finishOutboxEvent(id, func(ev *OutboxEvent) {
		ev.Status = OutboxDead
		ev.Attempts++
		ev.LastError = lastError
	})
}

func (s *InMemoryStore) ReleaseStaleOutboxClaims(claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.outbox {
		if ev.Status == OutboxClaimed && ev.ClaimedAt != nil && ev.ClaimedAt.Before(claimedBefore) {
			ev.Status = OutboxPending
			ev.ClaimedAt = nil
			ev.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// OutboxEvent returns a copy of the stored event with row id id.
func (s *InMemoryStore) OutboxEvent(id string) (OutboxEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.outbox[id]
	if !ok {
		return OutboxEvent{}, false
	}
	return *ev, true
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, ChannelID: channelID, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := s.now()
		r.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) PruneDedupRecords(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.dedup {
		if r.ReceivedAt.Before(olderThan) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) WorkflowStateRepo() WorkflowStateRepo { return s }
func (s *InMemoryStore) OutboxRepo() OutboxRepo               { return s }
func (s *InMemoryStore) DedupRepo() DedupRepo                 { return s }

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
