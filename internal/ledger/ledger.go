// Package ledger provides an append-only history of show runs.
// It backs the status surface, schedule deduplication and auditing.
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
	EventShowStarted   EventType = "show_started"
	EventShowFinished  EventType = "show_finished"
	EventShowStopped   EventType = "show_stopped"
	EventShowWarning   EventType = "show_warning"
	EventScheduleFired EventType = "schedule_fired"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	RunID          string         `json:"run_id,omitempty"`
	Song           string         `json:"song,omitempty"`
	Playlist       string         `json:"playlist,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Source         string         `json:"source,omitempty"` // schedule id for scheduler rows
	IdempotencyKey string         `json:"-"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

const columns = `id, event_type, timestamp, run_id, song, playlist, payload, source, idempotency_key`

// Append adds a run event to the ledger.
func (l *Ledger) Append(eventType EventType, runID, song, playlist string, payload map[string]any) error {
	return l.insert(`INSERT INTO show_ledger`, Entry{
		EventType: eventType,
		RunID:     runID,
		Song:      song,
		Playlist:  playlist,
		Payload:   payload,
	})
}

// MarkFired records a schedule occurrence. It returns false when the
// occurrence was already recorded, so concurrent or repeated firings of the
// same occurrence start the playlist only once.
func (l *Ledger) MarkFired(occurrenceID, scheduleID, playlist string, payload map[string]any) (bool, error) {
	if occurrenceID == "" {
		return false, fmt.Errorf("empty occurrence id")
	}
	res, err := l.exec(`INSERT OR IGNORE INTO show_ledger`, Entry{
		EventType:      EventScheduleFired,
		Playlist:       playlist,
		Payload:        payload,
		Source:         scheduleID,
		IdempotencyKey: occurrenceID,
	})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasFired checks if a schedule occurrence was already recorded
func (l *Ledger) HasFired(occurrenceID string) bool {
	if occurrenceID == "" {
		return false
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM show_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, occurrenceID, string(EventScheduleFired)).Scan(&exists)

	return err == nil && exists == 1
}

// LastFired returns when the schedule last fired.
func (l *Ledger) LastFired(scheduleID string) (time.Time, bool) {
	var ts sql.NullInt64
	err := l.db.QueryRow(`
		SELECT MAX(timestamp) FROM show_ledger
		WHERE source = ? AND event_type = ?
	`, scheduleID, string(EventScheduleFired)).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, false
	}
	return time.Unix(ts.Int64, 0).UTC(), true
}

// GetByRun returns every entry of one run in insertion order
func (l *Ledger) GetByRun(runID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT `+columns+`
		FROM show_ledger
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT `+columns+`
		FROM show_ledger
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

// Recent returns the newest entries of any type
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT `+columns+`
		FROM show_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT `+columns+`
		FROM show_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM show_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Clear removes every entry.
func (l *Ledger) Clear() error {
	_, err := l.db.Exec(`DELETE FROM show_ledger`)
	return err
}

func (l *Ledger) insert(verb string, e Entry) error {
	_, err := l.exec(verb, e)
	return err
}

func (l *Ledger) exec(verb string, e Entry) (sql.Result, error) {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	return l.db.Exec(verb+` (event_type, timestamp, run_id, song, playlist, payload, source, idempotency_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.EventType),
		l.now().UTC().Unix(),
		nullable(e.RunID),
		nullable(e.Song),
		nullable(e.Playlist),
		nullable(string(payloadJSON)),
		nullable(e.Source),
		nullable(e.IdempotencyKey),
	)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var runID, song, playlist, payloadStr, source, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &runID, &song, &playlist, &payloadStr, &source, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.RunID = runID.String
		entry.Song = song.String
		entry.Playlist = playlist.String
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
