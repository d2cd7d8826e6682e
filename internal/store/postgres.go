// Package store provides storage backends for LeadPipe.
//
// This file implements a PostgreSQL-backed store for workflow state and receipts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks for PostgresStore.
var (
	_ Store               = (*PostgresStore)(nil)
	_ PersistenceProvider = (*PostgresStore)(nil)
	_ WorkflowStatePruner = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, response_id, chunk_index, status, time) VALUES ($1, $2, $3, $4, $5)`,
		r.To, nilIfEmpty(r.ResponseID), r.ChunkIndex, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, response_id, chunk_index, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (s *PostgresStore) GetWorkflowState(channelID string) ([]byte, bool, error) {
	var doc []byte
	err := s.db.QueryRow(`SELECT state_json FROM workflow_states WHERE channel_id = $1`, channelID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetWorkflowState failed", "error", err, "channelID", channelID)
		return nil, false, fmt.Errorf("failed to read workflow state for %s: %w", channelID, err)
	}
	return doc, true, nil
}

func (s *PostgresStore) PutWorkflowState(channelID string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_states (channel_id, state_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (channel_id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		channelID, string(data), time.Now())
	if err != nil {
		slog.Error("PostgresStore PutWorkflowState failed", "error", err, "channelID", channelID)
		return fmt.Errorf("failed to write workflow state for %s: %w", channelID, err)
	}
	slog.Debug("PostgresStore PutWorkflowState succeeded", "channelID", channelID, "bytes", len(data))
	return nil
}

func (s *PostgresStore) PruneWorkflowStates(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM workflow_states WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune workflow states failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) WorkflowStateRepo() WorkflowStateRepo { return s }
func (s *PostgresStore) OutboxRepo() OutboxRepo               { return s }
func (s *PostgresStore) DedupRepo() DedupRepo                 { return s }

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
