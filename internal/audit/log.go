// Package audit persists a history of service load/unload events to a
// SQLite-backed log (spec.md §4.9/SPEC_FULL.md C10). It is a historical
// record only: a worker never consults it to recover in-flight request
// state or to hot-swap a running service, matching the protocol's
// explicit non-goals around persistence.
package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// Event is one load or unload occurrence recorded against a service name.
type Event struct {
	ID         int64
	Service    string
	Kind       string // "load" or "unload"
	ModelPath  string
	Detail     string
	OccurredAt int64 // unix seconds
}

const (
	KindLoad   = "load"
	KindUnload = "unload"
)

// Log is a SQLite-backed append-only record of service lifecycle events.
type Log struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	stmtInsert *sql.Stmt
}

// Open creates or attaches to the SQLite database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral, test-only log.
func Open(path string) (*Log, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit log at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	l := &Log{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded audit schema: %w", err)
	}
	if _, err := l.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing audit schema: %w", err)
	}
	return nil
}

func (l *Log) prepareStatements() error {
	stmt, err := l.db.Prepare(`
		INSERT INTO service_events (service, event, model_path, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing audit insert: %w", err)
	}
	l.stmtInsert = stmt
	return nil
}

// RecordLoad records a successful or failed load attempt for service.
// detail carries an error message on failure, or empty on success.
func (l *Log) RecordLoad(service, modelPath, detail string) error {
	return l.record(service, KindLoad, modelPath, detail)
}

// RecordUnload records an unload of service. detail carries an error
// message on failure, or empty on success.
func (l *Log) RecordUnload(service, detail string) error {
	return l.record(service, KindUnload, "", detail)
}

func (l *Log) record(service, kind, modelPath, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.stmtInsert.Exec(service, kind, modelPath, detail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("recording %s event for %s: %w", kind, service, err)
	}
	return nil
}

// Recent returns the most recent events for service, newest first, capped
// at limit rows.
func (l *Log) Recent(service string, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT event_id, service, event, model_path, detail, occurred_at
		FROM service_events
		WHERE service = ?
		ORDER BY occurred_at DESC, event_id DESC
		LIMIT ?
	`, service, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit history for %s: %w", service, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var modelPath, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Service, &e.Kind, &modelPath, &detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.ModelPath = modelPath.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the prepared statement and closes the underlying
// connection.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stmtInsert != nil {
		l.stmtInsert.Close()
	}
	return l.db.Close()
}
