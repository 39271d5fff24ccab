package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Run struct {
	ID        string     `json:"id"`
	Nodes     int        `json:"nodes"`
	Agents    int        `json:"agents"`
	Failures  int        `json:"failures"`
	Summary   string     `json:"summary,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *Store) SaveRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, nodes, agents, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nodes = excluded.nodes,
			agents = excluded.agents`,
		r.ID, r.Nodes, r.Agents, r.StartedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// FinishRun stamps the end time and the shutdown summary.
func (s *Store) FinishRun(id string, failures int, summary string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET failures = ?, summary = ?, ended_at = ?
		WHERE id = ?`, failures, summary, time.Now(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", id)
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var summary *string
	var ended sql.NullTime
	if err := scanner.Scan(&r.ID, &r.Nodes, &r.Agents, &r.Failures, &summary, &r.StartedAt, &ended); err != nil {
		return nil, err
	}
	if summary != nil {
		r.Summary = *summary
	}
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return r, nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, nodes, agents, failures, summary, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, nodes, agents, failures, summary, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
