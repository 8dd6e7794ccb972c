// Package ledger provides an append-only history of filter transitions and
// state edits.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventStateSaved    EventType = "state_saved"
	EventStateReset    EventType = "state_reset"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
	Source         string         `json:"source,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger. Entries sharing a non-empty
// idempotency key are recorded once; later duplicates are ignored.
func (l *Ledger) Append(eventType EventType, idempotencyKey, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}

	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO event_ledger (event_type, timestamp, payload, source, idempotency_key)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), time.Now().UTC().UnixMilli(), string(payloadJSON), source, key)

	return err
}

// Has reports whether an entry with the idempotency key exists.
func (l *Ledger) Has(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM event_ledger WHERE idempotency_key = ? LIMIT 1
	`, idempotencyKey).Scan(&exists)

	return err == nil && exists == 1
}

// Recent returns the newest entries of any type.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, idempotency_key
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, idempotency_key
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, idempotencyKey sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &idempotencyKey); err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Source = source.String
		entry.IdempotencyKey = idempotencyKey.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
