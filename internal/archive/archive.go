// Package archive keeps a durable audit log of every bus message in an
// embedded SQLite database.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/hivemind/internal/bus"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	task_id    TEXT,
	type       TEXT,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	deliver_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_to   ON messages(to_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
`

// Store records and queries archived messages. It implements
// bus.Recorder.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the archive database at path and applies the
// schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// The bus serializes under one lock; a single connection avoids
	// SQLITE_BUSY without WAL tuning.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one accepted message. Failures are logged, never
// propagated: the audit trail must not break delivery.
func (s *Store) Record(msg *bus.Message) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		s.logger.Error("archive marshal failed", "message", msg.ID, "error", err)
		return
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, from_id, to_id, task_id, type, payload, created_at, deliver_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, msg.TaskID, string(msg.Type), string(payload),
		msg.CreatedAt.UTC(), msg.DeliverAt.UTC(),
	)
	if err != nil {
		s.logger.Error("archive insert failed", "message", msg.ID, "error", err)
	}
}

// ListByAgent returns the most recent messages sent to or from an
// agent, oldest first.
func (s *Store) ListByAgent(agentID string, limit int) ([]*bus.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, from_id, to_id, task_id, type, payload, created_at, deliver_at
		 FROM messages WHERE to_id = ? OR from_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []*bus.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// DESC + reverse keeps the LIMIT on the newest side.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListByTask returns every message of a task, oldest first.
func (s *Store) ListByTask(taskID string) ([]*bus.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, from_id, to_id, task_id, type, payload, created_at, deliver_at
		 FROM messages WHERE task_id = ? ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []*bus.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the total number of archived messages.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(rows *sql.Rows) (*bus.Message, error) {
	var (
		m         bus.Message
		typ       string
		payload   string
		createdAt time.Time
		deliverAt time.Time
	)
	if err := rows.Scan(&m.ID, &m.From, &m.To, &m.TaskID, &typ, &payload, &createdAt, &deliverAt); err != nil {
		return nil, fmt.Errorf("scan archive row: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
		return nil, fmt.Errorf("decode archived payload: %w", err)
	}
	m.Type = bus.MessageType(typ)
	m.CreatedAt = createdAt
	m.DeliverAt = deliverAt
	return &m, nil
}
