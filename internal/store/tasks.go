package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kypseli/hive/internal/hive"
)

func (s *Store) SaveTask(t *hive.Task) error {
	domains, err := json.Marshal(t.RequiredDomains)
	if err != nil {
		return fmt.Errorf("marshal required domains: %w", err)
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	assigned, err := json.Marshal(t.AssignedAgents)
	if err != nil {
		return fmt.Errorf("marshal assigned agents: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, type, priority, description, required_domains, deadline, dependencies, status, assigned_agents, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agents = excluded.assigned_agents,
			result = excluded.result`,
		t.ID, string(t.Type), string(t.Priority), t.Description, string(domains),
		t.Deadline, string(deps), string(t.Status), string(assigned), t.Result, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*hive.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, type, priority, description, required_domains, deadline, dependencies, status, assigned_agents, result, created_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks() ([]hive.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, type, priority, description, required_domains, deadline, dependencies, status, assigned_agents, result, created_at
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []hive.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*hive.Task, error) {
	t := &hive.Task{}
	var taskType, priority, status string
	var description, domains, deps, assigned, result sql.NullString
	var deadline sql.NullTime
	err := scanner.Scan(&t.ID, &taskType, &priority, &description, &domains,
		&deadline, &deps, &status, &assigned, &result, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = hive.TaskType(taskType)
	t.Priority = hive.TaskPriority(priority)
	t.Status = hive.TaskStatus(status)
	t.Description = description.String
	t.Result = result.String
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	for _, pair := range []struct {
		raw string
		dst any
	}{
		{domains.String, &t.RequiredDomains},
		{deps.String, &t.Dependencies},
		{assigned.String, &t.AssignedAgents},
	} {
		if pair.raw == "" || pair.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return nil, fmt.Errorf("unmarshal task field: %w", err)
		}
	}
	return t, nil
}
