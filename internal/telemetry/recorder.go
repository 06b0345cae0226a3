package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"licensor/internal/storage"
)

// Event types written by the activation manager
const (
	EventActivationSucceeded = "activation_succeeded"
	EventImportRejected      = "import_rejected"
	EventTampered            = "tampered"
	EventCorrupted           = "corrupted"
	EventStatusChanged       = "status_changed"
	EventGraceStarted        = "grace_started"
	EventGraceExpired        = "grace_expired"
	EventHardwareRematched   = "hardware_rematched"
	EventClockRollback       = "clock_rollback"
	EventRecordRollback      = "record_rollback"
	EventPersistFailed       = "persist_failed"
	EventDeactivated         = "deactivated"
	EventRateLimited         = "rate_limited"
	EventStoreDegraded       = "store_degraded"
)

const (
	maxDetailLength = 1024
	writeTimeout    = 2 * time.Second
	eventsSchema    = `CREATE TABLE IF NOT EXISTS events(id INTEGER PRIMARY KEY AUTOINCREMENT, ts INTEGER NOT NULL, type TEXT NOT NULL, detail TEXT NOT NULL);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);`
)

// Event is one telemetry entry
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail"`
}

// Source reads back recorded events
type Source interface {
	Events(ctx context.Context, limit int) ([]Event, error)
}

// Log is an append-only event log in a local sqlite database. Entries are
// never updated or deleted.
type Log struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the event log at path
func Open(ctx context.Context, path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storage.OpenSQLite(ctx, path, eventsSchema)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}

	return &Log{
		path:   path,
		db:     db,
		logger: logger.With(slog.String("component", "telemetry")),
		now:    time.Now,
	}, nil
}

// truncateDetail cuts detail to at most maxDetailLength bytes without
// splitting a UTF-8 sequence
func truncateDetail(detail string) string {
	if len(detail) <= maxDetailLength {
		return detail
	}
	cut := maxDetailLength
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}

// Record appends an event. Failures are logged and otherwise ignored.
func (l *Log) Record(ctx context.Context, eventType, detail string) {
	detail = truncateDetail(detail)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err := l.db.ExecContext(wctx, `INSERT INTO events(ts, type, detail) VALUES(?, ?, ?)`,
		l.now().UnixNano(), eventType, detail)
	if err != nil {
		l.logger.WarnContext(ctx, "Telemetry write failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
		return
	}

	l.logger.DebugContext(ctx, "Telemetry event recorded",
		slog.String("event_type", eventType))
}

// Events returns up to limit of the most recent events, oldest first. A
// non-positive limit returns every event.
func (l *Log) Events(ctx context.Context, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("telemetry log closed")
	}

	query := `SELECT id, ts, type, detail FROM (SELECT id, ts, type, detail FROM events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e  Event
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Path returns the database location
func (l *Log) Path() string { return l.path }

// Close closes the database. Later Record calls are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Nop discards every event
type Nop struct{}

func (Nop) Record(context.Context, string, string) {}

// Memory keeps events in memory. Used by tests and when the log cannot be opened.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record appends an event
func (m *Memory) Record(_ context.Context, eventType, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{
		ID:        int64(len(m.events) + 1),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Detail:    detail,
	})
}

// Events returns up to limit of the most recent events, oldest first
func (m *Memory) Events(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]Event(nil), events...), nil
}

// Types returns the recorded event types in order
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}
