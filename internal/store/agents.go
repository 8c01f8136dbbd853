package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kypseli/hive/internal/hive"
)

func (s *Store) SaveAgent(a *hive.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agents (id, domain, name, capabilities, status, priority, health_score, last_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			domain = excluded.domain,
			name = excluded.name,
			capabilities = excluded.capabilities,
			status = excluded.status,
			priority = excluded.priority,
			health_score = excluded.health_score,
			last_active = excluded.last_active,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, string(a.Domain), a.Name, string(caps), string(a.Status), a.Priority, a.HealthScore, a.LastActive)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*hive.Agent, error) {
	row := s.db.QueryRow(`
		SELECT id, domain, name, capabilities, status, priority, health_score, last_active
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]hive.Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, domain, name, capabilities, status, priority, health_score, last_active
		FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []hive.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*hive.Agent, error) {
	a := &hive.Agent{}
	var domain, status string
	var caps sql.NullString
	var lastActive sql.NullTime
	err := scanner.Scan(&a.ID, &domain, &a.Name, &caps, &status, &a.Priority, &a.HealthScore, &lastActive)
	if err != nil {
		return nil, err
	}
	a.Domain = hive.Domain(domain)
	a.Status = hive.AgentStatus(status)
	if caps.Valid && caps.String != "" && caps.String != "null" {
		if err := json.Unmarshal([]byte(caps.String), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if lastActive.Valid {
		a.LastActive = lastActive.Time
	}
	return a, nil
}
