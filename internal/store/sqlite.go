// Package store provides storage backends for LeadPipe.
//
// This file implements an SQLite-backed store for workflow state and receipts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time checks for SQLiteStore.
var (
	_ Store               = (*SQLiteStore)(nil)
	_ PersistenceProvider = (*SQLiteStore)(nil)
	_ WorkflowStatePruner = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, response_id, chunk_index, status, time) VALUES (?, ?, ?, ?, ?)`,
		r.To, nilIfEmpty(r.ResponseID), r.ChunkIndex, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, response_id, chunk_index, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *SQLiteStore) GetWorkflowState(channelID string) ([]byte, bool, error) {
	var doc string
	err := s.db.QueryRow(`SELECT state_json FROM workflow_states WHERE channel_id = ?`, channelID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetWorkflowState failed", "error", err, "channelID", channelID)
		return nil, false, fmt.Errorf("failed to read workflow state for %s: %w", channelID, err)
	}
	return []byte(doc), true, nil
}

func (s *SQLiteStore) PutWorkflowState(channelID string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_states (channel_id, state_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		channelID, string(data), time.Now())
	if err != nil {
		slog.Error("SQLiteStore PutWorkflowState failed", "error", err, "channelID", channelID)
		return fmt.Errorf("failed to write workflow state for %s: %w", channelID, err)
	}
	slog.Debug("SQLiteStore PutWorkflowState succeeded", "channelID", channelID, "bytes", len(data))
	return nil
}

func (s *SQLiteStore) PruneWorkflowStates(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM workflow_states WHERE updated_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune workflow states failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) WorkflowStateRepo() WorkflowStateRepo { return s }
func (s *SQLiteStore) OutboxRepo() OutboxRepo               { return s }
func (s *SQLiteStore) DedupRepo() DedupRepo                 { return s }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
