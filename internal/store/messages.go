package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kypseli/hive/internal/hive"
)

func (s *Store) SaveMessage(m *hive.Message) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, domain, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, string(m.Domain), m.Type, string(payload), m.Timestamp)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ListMessages returns all persisted messages in publish order.
func (s *Store) ListMessages() ([]hive.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, domain, type, payload, created_at
		FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []hive.Message
	for rows.Next() {
		var m hive.Message
		var domain string
		var payload sql.NullString
		if err := rows.Scan(&m.ID, &domain, &m.Type, &payload, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Domain = hive.Domain(domain)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &m.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessagesByDomain returns one domain channel's history in publish
// order.
func (s *Store) ListMessagesByDomain(d hive.Domain) ([]hive.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, domain, type, payload, created_at
		FROM messages WHERE domain = ? ORDER BY seq`, string(d))
	if err != nil {
		return nil, fmt.Errorf("list messages by domain: %w", err)
	}
	defer rows.Close()

	var msgs []hive.Message
	for rows.Next() {
		var m hive.Message
		var domain string
		var payload sql.NullString
		if err := rows.Scan(&m.ID, &domain, &m.Type, &payload, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Domain = hive.Domain(domain)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &m.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
