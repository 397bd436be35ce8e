// Package audit persists every emitted engine event into an append-only
// SQLite journal. Entries are never updated or deleted; together with the
// never-deleted escrow records they form the audit trail.
package audit

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"tutorpay/core/events"
	"tutorpay/core/types"
)

// Journal records engine events in arrival order.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Entry is a single journal row.
type Entry struct {
	Seq        int64
	Type       string
	Attributes map[string]string
	RecordedAt time.Time
}

type attributed interface {
	Event() *types.Event
}

// Open creates or opens the journal database at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	journal := &Journal{db: db, log: log}
	if err := journal.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS audit_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
`)
	return err
}

// Emit implements the events.Emitter interface. Persistence failures are
// logged rather than propagated; the emitting engine has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	attrs := map[string]string{}
	if a, ok := evt.(attributed); ok {
		if event := a.Event(); event != nil && event.Attributes != nil {
			attrs = event.Attributes
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		j.log.Warn("audit: encode attributes", "error", err, "event", evt.EventType())
		return
	}
	if _, err := j.db.Exec(
		`INSERT INTO audit_events (event_type, attributes, recorded_at) VALUES (?, ?, ?)`,
		evt.EventType(), string(encoded), time.Now().UTC(),
	); err != nil {
		j.log.Warn("audit: persist event", "error", err, "event", evt.EventType())
	}
}

// Count returns the number of journaled events, optionally filtered by type.
// A blank eventType counts everything.
func (j *Journal) Count(eventType string) (int64, error) {
	var count int64
	var err error
	if eventType == "" {
		err = j.db.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count)
	} else {
		err = j.db.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE event_type = ?`, eventType).Scan(&count)
	}
	return count, err
}

// Events returns journal entries of the given type in arrival order. A blank
// eventType returns everything.
func (j *Journal) Events(eventType string) ([]Entry, error) {
	query := `SELECT seq, event_type, attributes, recorded_at FROM audit_events ORDER BY seq`
	args := []any{}
	if eventType != "" {
		query = `SELECT seq, event_type, attributes, recorded_at FROM audit_events WHERE event_type = ? ORDER BY seq`
		args = append(args, eventType)
	}
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var encoded string
		if err := rows.Scan(&entry.Seq, &entry.Type, &encoded, &entry.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encoded), &entry.Attributes); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
