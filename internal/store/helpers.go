package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DetectDSNType returns "postgres" for PostgreSQL URLs or key=value connection strings
// and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "?") {
		return "sqlite3"
	}
	fields := strings.Fields(dsn)
	if len(fields) == 0 {
		return "sqlite3"
	}
	for _, f := range fields {
		if !strings.Contains(f, "=") {
			return "sqlite3"
		}
	}
	return "postgres"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanReceipts drains rows of (recipient, response_id, chunk_index, status, time).
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var responseID sql.NullString
		if err := rows.Scan(&r.To, &responseID, &r.ChunkIndex, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.ResponseID = responseID.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanOutboxEvent reads one row selected with outboxColumns.
func scanOutboxEvent(row rowScanner) (OutboxEvent, error) {
	var ev OutboxEvent
	var nextAttemptAt, claimedAt sql.NullTime
	if err := row.Scan(
		&ev.ID, &ev.EventID, &ev.ChannelID, &ev.Name, &ev.Payload, &ev.Status, &ev.Attempts,
		&nextAttemptAt, &claimedAt, &ev.LastError, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return ev, fmt.Errorf("scan outbox event: %w", err)
	}
	if nextAttemptAt.Valid {
		ev.NextAttemptAt = &nextAttemptAt.Time
	}
	if claimedAt.Valid {
		ev.ClaimedAt = &claimedAt.Time
	}
	return ev, nil
}

// collectOutboxEvents scans and closes rows.
func collectOutboxEvents(rows *sql.Rows) ([]OutboxEvent, error) {
	defer rows.Close()
	var out []OutboxEvent
	for rows.Next() {
		ev, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return out, nil
}
