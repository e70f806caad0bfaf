package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink keeps a local log of reports. Use ":memory:" in tests.
type SQLiteSink struct {
	db *sql.DB
	mu sync.RWMutex
}

// StoredEvent is a report read back from the store.
type StoredEvent struct {
	Seq       int64
	Event     Event
	Timestamp time.Time
}

// NewSQLiteSink opens (or creates) the store at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		body BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_phase ON reports(phase);
	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) Name() string { return "sqlite" }

// Send appends evt.
func (s *SQLiteSink) Send(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO reports (event_id, session_id, phase, timestamp, body) VALUES (?, ?, ?, ?, ?)",
		evt.ID, evt.SessionID, evt.Phase, evt.Timestamp.UnixNano(), body,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Query returns stored reports for phase in insertion order. An empty phase
// returns everything.
func (s *SQLiteSink) Query(ctx context.Context, phase string) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := "SELECT seq, timestamp, body FROM reports"
	var args []any
	if phase != "" {
		q += " WHERE phase = ?"
		args = append(args, phase)
	}
	q += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredEvent
	for rows.Next() {
		var (
			se   StoredEvent
			ts   int64
			body []byte
		)
		if err := rows.Scan(&se.Seq, &ts, &body); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if err := json.Unmarshal(body, &se.Event); err != nil {
			return nil, fmt.Errorf("decode report %d: %w", se.Seq, err)
		}
		se.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, se)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
