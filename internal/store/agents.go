package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// CreateAgent inserts a new agent row. Fails with ErrConflict if agent_id or
// token already exists (§4.1 create_agent).
func (s *Store) CreateAgent(a *types.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return types.WrapInternal("marshal agent capabilities: " + err.Error())
	}

	_, err = s.db.Exec(`
		INSERT INTO agents (agent_id, token, capabilities, status, current_task, working_directory, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.Token, string(caps), a.Status, nullString(a.CurrentTask), a.WorkingDirectory, a.Color, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.WrapConflict("agent", a.AgentID)
		}
		return types.WrapStorage(fmt.Errorf("create agent %s: %w", a.AgentID, err))
	}
	return nil
}

// DeleteAgent removes an agent row outright (used to roll back a failed
// create_agent flow, and to tear down a stale testing agent before
// re-creating it, §4.6.1).
func (s *Store) DeleteAgent(agentID string) error {
	_, err := s.db.Exec("DELETE FROM agents WHERE agent_id = ?", agentID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("delete agent %s: %w", agentID, err))
	}
	return nil
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(agentID string) (*types.Agent, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, token, capabilities, status, current_task, working_directory, color, created_at, updated_at, terminated_at
		FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

// GetAgentByToken resolves an agent via its bearer token (Auth's O(1) index
// is a cache in front of this; this is the source of truth).
func (s *Store) GetAgentByToken(token string) (*types.Agent, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, token, capabilities, status, current_task, working_directory, color, created_at, updated_at, terminated_at
		FROM agents WHERE token = ?`, token)
	return scanAgent(row)
}

// ListAgents returns every agent row, optionally filtered to a status set.
func (s *Store) ListAgents(statuses ...types.AgentStatus) ([]*types.Agent, error) {
	query := `SELECT agent_id, token, capabilities, status, current_task, working_directory, color, created_at, updated_at, terminated_at FROM agents`
	var args []interface{}
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list agents: %w", err))
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAgentStatus updates status (and terminated_at, if provided). Idempotent
// for the same status (§4.1).
func (s *Store) SetAgentStatus(agentID string, status types.AgentStatus, terminatedAt *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE agents SET status = ?, terminated_at = ?, updated_at = ?
		WHERE agent_id = ?`,
		string(status), terminatedAt, time.Now(), agentID,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("set agent status %s: %w", agentID, err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.WrapNotFound("agent", agentID)
	}
	return nil
}

// SetAgentCurrentTask updates an agent's current_task pointer. Called inside
// the same transaction as assign_task_to_agent (§4.1).
func (s *Store) setAgentCurrentTask(tx *sql.Tx, agentID, taskID string) error {
	res, err := tx.Exec(`UPDATE agents SET current_task = ?, updated_at = ? WHERE agent_id = ?`,
		nullString(taskID), time.Now(), agentID)
	if err != nil {
		return fmt.Errorf("set current_task for agent %s: %w", agentID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, types.ErrNotFound)
	}
	return nil
}

func scanAgent(row *sql.Row) (*types.Agent, error) {
	var a types.Agent
	var caps string
	var currentTask sql.NullString
	var terminatedAt sql.NullTime

	err := row.Scan(&a.AgentID, &a.Token, &caps, &a.Status, &currentTask, &a.WorkingDirectory, &a.Color, &a.CreatedAt, &a.UpdatedAt, &terminatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.WrapNotFound("agent", "")
		}
		return nil, types.WrapStorage(fmt.Errorf("scan agent: %w", err))
	}
	return finishAgentScan(&a, caps, currentTask, terminatedAt)
}

func scanAgentRows(rows *sql.Rows) (*types.Agent, error) {
	var a types.Agent
	var caps string
	var currentTask sql.NullString
	var terminatedAt sql.NullTime

	err := rows.Scan(&a.AgentID, &a.Token, &caps, &a.Status, &currentTask, &a.WorkingDirectory, &a.Color, &a.CreatedAt, &a.UpdatedAt, &terminatedAt)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("scan agent row: %w", err))
	}
	return finishAgentScan(&a, caps, currentTask, terminatedAt)
}

func finishAgentScan(a *types.Agent, caps string, currentTask sql.NullString, terminatedAt sql.NullTime) (*types.Agent, error) {
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, types.WrapInternal("unmarshal agent capabilities: " + err.Error())
	}
	a.CurrentTask = currentTask.String
	if terminatedAt.Valid {
		t := terminatedAt.Time
		a.TerminatedAt = &t
	}
	return a, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
