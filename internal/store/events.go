package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event levels mirror the audit trail's coarse severities.
const (
	EventInfo     = "INFO"
	EventWarning  = "WARNING"
	EventCritical = "CRITICAL"
)

// Event is one audit-trail entry: vetoes, kill switches, approval
// expiries, anything an operator reviews after the fact.
type Event struct {
	ID        int64          `db:"id"`
	Timestamp string         `db:"timestamp"`
	Level     string         `db:"level"`
	Message   string         `db:"message"`
	Metadata  sql.NullString `db:"metadata"`
}

// LogEvent appends an audit entry with optional JSON metadata.
func (s *Store) LogEvent(ctx context.Context, level, message string, metadata any) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(cctx, `
		INSERT INTO events (timestamp, level, message, metadata)
		VALUES (?, ?, ?, ?)`,
		formatTS(time.Now()), level, message, MarshalStrategyData(metadata))
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// EventsOn returns the day's audit entries in order.
func (s *Store) EventsOn(ctx context.Context, day time.Time) ([]Event, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var events []Event
	err := s.db.SelectContext(cctx, &events, `
		SELECT * FROM events
		WHERE timestamp LIKE ?
		ORDER BY timestamp ASC, id ASC`,
		day.UTC().Format("2006-01-02")+"%")
	if err != nil {
		return nil, fmt.Errorf("events on %s: %w", day.Format("2006-01-02"), err)
	}
	return events, nil
}
