package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Level     string    `json:"level"`
	Node      string    `json:"node,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Receiver  string    `json:"receiver,omitempty"`
	MsgType   string    `json:"msg_type,omitempty"`
	Content   string    `json:"content,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveEvent(e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO events (run_id, kind, level, node, agent, sender, receiver, msg_type, content, detail, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Kind, e.Level, e.Node, e.Agent, e.Sender, e.Receiver, e.MsgType, e.Content, e.Detail, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

// EventFilter narrows GetEvents. Empty fields match everything.
type EventFilter struct {
	RunID string
	Agent string
	Node  string
	Kind  string
	Limit int
}

// GetEvents returns matching events in chronological order, keeping the
// newest Limit rows.
func (s *Store) GetEvents(f EventFilter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, kind, level, node, agent, sender, receiver, msg_type, content, detail, error, created_at
		FROM events
		WHERE (? = '' OR run_id = ?)
		  AND (? = '' OR agent = ?)
		  AND (? = '' OR node = ?)
		  AND (? = '' OR kind = ?)
		ORDER BY id DESC
		LIMIT ?`,
		f.RunID, f.RunID, f.Agent, f.Agent, f.Node, f.Node, f.Kind, f.Kind, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var node, agent, sender, receiver, msgType, content, detail, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Level, &node, &agent, &sender, &receiver,
			&msgType, &content, &detail, &errText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Node, e.Agent = node.String, agent.String
		e.Sender, e.Receiver = sender.String, receiver.String
		e.MsgType, e.Content = msgType.String, content.String
		e.Detail, e.Error = detail.String, errText.String
		events = append(events, e)
	}

	// Reverse to get chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, rows.Err()
}

// EventCounts returns the number of events per kind for a run.
func (s *Store) EventCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT kind, COUNT(*) FROM events
		WHERE run_id = ?
		GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
