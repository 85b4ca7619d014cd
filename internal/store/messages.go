package store

import (
	"database/sql"
	"fmt"

	"github.com/fleetforge/fleetd/internal/types"
)

// SendMessage inserts a new agent-to-agent message (SUPPLEMENTED FEATURE,
// SPEC_FULL §3: the teacher's router.AgentComms only stubs this).
func (s *Store) SendMessage(m *types.AgentMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_messages (message_id, sender_id, recipient_id, content, type, priority, timestamp, delivered, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.SenderID, m.RecipientID, m.Content, m.Type, m.Priority, m.Timestamp, m.Delivered, m.Read,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.WrapConflict("agent_message", m.MessageID)
		}
		return types.WrapStorage(fmt.Errorf("send message %s: %w", m.MessageID, err))
	}
	return nil
}

// InboxForAgent returns a recipient's messages, unread first, newest first.
func (s *Store) InboxForAgent(agentID string, unreadOnly bool) ([]*types.AgentMessage, error) {
	query := `
		SELECT message_id, sender_id, recipient_id, content, type, priority, timestamp, delivered, read
		FROM agent_messages WHERE recipient_id = ?`
	args := []interface{}{agentID}
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY read ASC, timestamp DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list inbox for %s: %w", agentID, err))
	}
	defer rows.Close()

	var out []*types.AgentMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageDelivered flips the delivered flag.
func (s *Store) MarkMessageDelivered(messageID string) error {
	res, err := s.db.Exec(`UPDATE agent_messages SET delivered = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("mark delivered %s: %w", messageID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.WrapNotFound("agent_message", messageID)
	}
	return nil
}

// MarkMessageRead flips the read flag.
func (s *Store) MarkMessageRead(messageID string) error {
	res, err := s.db.Exec(`UPDATE agent_messages SET read = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("mark read %s: %w", messageID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.WrapNotFound("agent_message", messageID)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (*types.AgentMessage, error) {
	var m types.AgentMessage
	if err := rows.Scan(&m.MessageID, &m.SenderID, &m.RecipientID, &m.Content, &m.Type, &m.Priority, &m.Timestamp, &m.Delivered, &m.Read); err != nil {
		return nil, types.WrapStorage(fmt.Errorf("scan message: %w", err))
	}
	return &m, nil
}
