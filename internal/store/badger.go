// Package store provides storage backends for LeadPipe.
//
// This file implements an embedded Badger-backed store. Workflow state documents
// and dedup records carry TTLs so that expiry is handled by the database itself.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/dgraph-io/badger/v4"
)

const (
	// DefaultDedupTTL is how long inbound message ids are remembered.
	DefaultDedupTTL = 7 * 24 * time.Hour
	// DefaultBadgerGCInterval is how often the value log is garbage collected.
	DefaultBadgerGCInterval = 5 * time.Minute

	badgerStatePrefix   = "state/"
	badgerReceiptPrefix = "receipt/"
	badgerDedupPrefix   = "dedup/"
)

// badgerLogger routes Badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps workflow state, receipts and dedup records in Badger.
type BadgerStore struct {
	db       *badger.DB
	stateTTL time.Duration
	dedupTTL time.Duration

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Compile-time checks for BadgerStore.
var (
	_ Store     = (*BadgerStore)(nil)
	_ DedupRepo = (*BadgerStore)(nil)
)

// NewBadgerStore opens a Badger database. An empty DSN opens an in-memory database.
func NewBadgerStore(opts ...Option) (*BadgerStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	var bopts badger.Options
	inMemory := cfg.DSN == ""
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.DSN, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.DSN, err)
		}
		bopts = badger.DefaultOptions(cfg.DSN).WithSyncWrites(true)
	}
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: slog.Default().With("component", "badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		slog.Error("BadgerStore open failed", "error", err, "dir", cfg.DSN)
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{
		db:       db,
		stateTTL: cfg.StateTTL,
		dedupTTL: cfg.DedupTTL,
		stopGC:   make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	if s.dedupTTL <= 0 {
		s.dedupTTL = DefaultDedupTTL
	}
	if inMemory {
		close(s.gcDone)
	} else {
		go s.runGC(DefaultBadgerGCInterval)
	}
	slog.Debug("BadgerStore opened", "inMemory", inMemory, "stateTTL", s.stateTTL)
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("BadgerStore value log GC failed", "error", err)
			}
		}
	}
}

func (s *BadgerStore) get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *BadgerStore) set(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) GetWorkflowState(channelID string) ([]byte, bool, error) {
	data, ok, err := s.get(badgerStatePrefix + channelID)
	if err != nil {
		slog.Error("BadgerStore GetWorkflowState failed", "error", err, "channelID", channelID)
		return nil, false, fmt.Errorf("failed to read workflow state for %s: %w", channelID, err)
	}
	return data, ok, nil
}

func (s *BadgerStore) PutWorkflowState(channelID string, data []byte) error {
	if err := s.set(badgerStatePrefix+channelID, data, s.stateTTL); err != nil {
		slog.Error("BadgerStore PutWorkflowState failed", "error", err, "channelID", channelID)
		return fmt.Errorf("failed to write workflow state for %s: %w", channelID, err)
	}
	return nil
}

func (s *BadgerStore) AddReceipt(r models.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	key := fmt.Sprintf("%s%020d/%s", badgerReceiptPrefix, time.Now().UnixNano(), util.GenerateRandomID("", 8))
	if err := s.set(key, data, 0); err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *BadgerStore) GetReceipts() ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerReceiptPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r models.Receipt
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode receipt: %w", err)
			}
			receipts = append(receipts, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	return receipts, nil
}

func (s *BadgerStore) IsDuplicate(messageID string) (bool, error) {
	_, ok, err := s.get(badgerDedupPrefix + messageID)
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return ok, nil
}

func (s *BadgerStore) RecordInbound(messageID, channelID string) (bool, error) {
	key := []byte(badgerDedupPrefix + messageID)
	isNew := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(DedupRecord{MessageID: messageID, ChannelID: channelID, ReceivedAt: time.Now()})
		if err != nil {
			return err
		}
		isNew = true
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.dedupTTL))
	})
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return isNew, nil
}

func (s *BadgerStore) MarkProcessed(messageID string) error {
	key := []byte(badgerDedupPrefix + messageID)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var rec DedupRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		now := time.Now()
		rec.ProcessedAt = &now
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		e := badger.NewEntry(key, data)
		if exp := item.ExpiresAt(); exp > 0 {
			if remaining := time.Until(time.Unix(int64(exp), 0)); remaining > 0 {
				e = e.WithTTL(remaining)
			}
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.once.Do(func() {
		select {
		case <-s.gcDone:
		default:
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
