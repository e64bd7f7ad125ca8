// Package audit persists socket lifecycle events to a local sqlite store.
// It implements the shim's event sink so the interposition core itself never
// links against the database; the monitor wires the two together.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/socket-intents/intent-shim/event"
)

// DB handles audit store operations.
type DB struct {
	Db *sql.DB
}

// Record is one stored lifecycle event.
type Record struct {
	ID int64 `json:"id"`
	event.Event
}

// Match is one detection rule hit over the event stream.
type Match struct {
	ID           int64     `json:"id"`
	EventID      int64     `json:"event_id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	Severity     string    `json:"severity"`
	MatchDetails string    `json:"match_details"`
	EventData    string    `json:"event_data"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewDB opens (or creates) the audit store under dataDir.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "intent_shim.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initEventSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %v", err)
	}

	if err := initDetectSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize detection schema: %v", err)
	}

	return &DB{Db: db}, nil
}

func initEventSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS socket_events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		op        TEXT NOT NULL,
		fd        INTEGER NOT NULL,
		delegated BOOLEAN NOT NULL,
		detail    TEXT,
		err       TEXT
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create socket_events table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_fd ON socket_events(fd);",
		"CREATE INDEX IF NOT EXISTS idx_events_op ON socket_events(op);",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON socket_events(timestamp);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

func initDetectSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS detector_state (
		id                  INTEGER PRIMARY KEY,
		event_type          TEXT NOT NULL,
		last_id             INTEGER NOT NULL,
		last_processed_time DATETIME NOT NULL,
		match_count         INTEGER DEFAULT 0,
		updated_at          DATETIME NOT NULL,
		UNIQUE(event_type)
	);

	CREATE TABLE IF NOT EXISTS rule_matches (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id      INTEGER NOT NULL,
		rule_id       TEXT NOT NULL,
		rule_name     TEXT NOT NULL,
		severity      TEXT NOT NULL,
		match_details TEXT,
		event_data    TEXT,
		timestamp     DATETIME NOT NULL,
		created_at    DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_rule_id ON rule_matches(rule_id);
	CREATE INDEX IF NOT EXISTS idx_matches_event_id ON rule_matches(event_id);
	CREATE INDEX IF NOT EXISTS idx_matches_timestamp ON rule_matches(timestamp);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create detection tables: %v", err)
	}

	return nil
}

// Publish stores a lifecycle event, satisfying the event sink contract.
// Storage errors are logged, never propagated into the hook path.
func (db *DB) Publish(e event.Event) {
	if err := db.InsertEvent(e); err != nil {
		log.Printf("failed to store socket event: %v", err)
	}
}

// InsertEvent adds a lifecycle event record.
func (db *DB) InsertEvent(e event.Event) error {
	query := `
	INSERT INTO socket_events (timestamp, op, fd, delegated, detail, err)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.Db.Exec(query, e.Timestamp, e.Op, e.FD, e.Delegated, e.Detail, e.Err)
	return err
}

// RecentEvents returns the newest events, newest first.
func (db *DB) RecentEvents(limit int) ([]Record, error) {
	query := `
	SELECT id, timestamp, op, fd, delegated, detail, err
	FROM socket_events ORDER BY id DESC LIMIT ?`

	rows, err := db.Db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// EventsSince returns up to limit events with IDs above lastID, oldest
// first, for the detector's polling loop.
func (db *DB) EventsSince(lastID int64, limit int) ([]Record, error) {
	query := `
	SELECT id, timestamp, op, fd, delegated, detail, err
	FROM socket_events WHERE id > ? ORDER BY id ASC LIMIT ?`

	rows, err := db.Db.Query(query, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Op, &r.FD, &r.Delegated, &r.Detail, &r.Err); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastProcessedID returns the detector's resume point for eventType,
// initializing it on first use.
func (db *DB) LastProcessedID(eventType string) (int64, error) {
	query := `SELECT last_id FROM detector_state WHERE event_type = ? LIMIT 1`

	var lastID int64
	err := db.Db.QueryRow(query, eventType).Scan(&lastID)
	if err != nil {
		if err == sql.ErrNoRows {
			initQuery := `
			INSERT INTO detector_state (event_type, last_id, last_processed_time, updated_at)
			VALUES (?, 0, datetime('now'), datetime('now'))`
			if _, err := db.Db.Exec(initQuery, eventType); err != nil {
				return 0, fmt.Errorf("failed to initialize state for %s: %v", eventType, err)
			}
			return 0, nil
		}
		return 0, err
	}
	return lastID, nil
}

// UpdateDetectorState advances the detector's resume point.
func (db *DB) UpdateDetectorState(eventType string, lastID int64, matchCount int) error {
	query := `
	UPDATE detector_state SET
		last_id = ?,
		last_processed_time = datetime('now'),
		match_count = match_count + ?,
		updated_at = datetime('now')
	WHERE event_type = ?`

	_, err := db.Db.Exec(query, lastID, matchCount, eventType)
	return err
}

// InsertMatch stores a detection rule hit.
func (db *DB) InsertMatch(m *Match) error {
	query := `
	INSERT INTO rule_matches (event_id, rule_id, rule_name, severity, match_details, event_data, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`

	_, err := db.Db.Exec(query, m.EventID, m.RuleID, m.RuleName, m.Severity, m.MatchDetails, m.EventData, m.Timestamp)
	return err
}

// RecentMatches returns the newest rule hits, newest first.
func (db *DB) RecentMatches(limit int) ([]Match, error) {
	query := `
	SELECT id, event_id, rule_id, rule_name, severity, match_details, event_data, timestamp, created_at
	FROM rule_matches ORDER BY id DESC LIMIT ?`

	rows, err := db.Db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.EventID, &m.RuleID, &m.RuleName, &m.Severity, &m.MatchDetails, &m.EventData, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EventFields flattens a record into the field map detection rules match
// against.
func EventFields(r Record) map[string]interface{} {
	return map[string]interface{}{
		"id":        r.ID,
		"Operation": r.Op,
		"FD":        r.FD,
		"Delegated": r.Delegated,
		"Detail":    r.Detail,
		"Error":     r.Err,
	}
}

// MarshalEventData renders a record for match storage.
func MarshalEventData(r Record) string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.Db.Close()
}
