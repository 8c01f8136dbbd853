package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kypseli/hive/internal/hive"
)

func (s *Store) SaveDecision(d *hive.Decision) error {
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return fmt.Errorf("marshal votes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO decisions (id, question, proposer_id, execution_plan, votes, consensus, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			votes = excluded.votes,
			consensus = excluded.consensus,
			resolved_at = excluded.resolved_at`,
		d.ID, d.Question, d.ProposerID, d.ExecutionPlan, string(votes),
		string(d.Consensus), d.CreatedAt, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

func (s *Store) GetDecision(id string) (*hive.Decision, error) {
	row := s.db.QueryRow(`
		SELECT id, question, proposer_id, execution_plan, votes, consensus, created_at, resolved_at
		FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (s *Store) ListDecisions() ([]hive.Decision, error) {
	rows, err := s.db.Query(`
		SELECT id, question, proposer_id, execution_plan, votes, consensus, created_at, resolved_at
		FROM decisions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []hive.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func scanDecision(scanner interface {
	Scan(dest ...any) error
}) (*hive.Decision, error) {
	d := &hive.Decision{}
	var plan, votes sql.NullString
	var consensus string
	var resolvedAt sql.NullTime
	err := scanner.Scan(&d.ID, &d.Question, &d.ProposerID, &plan, &votes, &consensus, &d.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	d.ExecutionPlan = plan.String
	d.Consensus = hive.Consensus(consensus)
	d.Votes = make(map[string]hive.Vote)
	if votes.Valid && votes.String != "" && votes.String != "null" {
		if err := json.Unmarshal([]byte(votes.String), &d.Votes); err != nil {
			return nil, fmt.Errorf("unmarshal votes: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}
