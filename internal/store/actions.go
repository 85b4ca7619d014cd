package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// RecordAction appends one audit-log entry (§4.1 record_action). Append-only:
// there is no update or delete path for agent_actions.
func (s *Store) RecordAction(agentID, actionType, taskID string, details map[string]any) error {
	raw := "{}"
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return types.WrapInternal("marshal action details: " + err.Error())
		}
		raw = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO agent_actions (agent_id, action_type, task_id, timestamp, details)
		VALUES (?, ?, ?, ?, ?)`,
		agentID, actionType, nullString(taskID), time.Now(), raw,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("record action %s for agent %s: %w", actionType, agentID, err))
	}
	return nil
}

// ActionsForAgentSince returns an agent's actions recorded at or after
// since, newest first. Used to build the testing-agent audit summary
// (§4.6.1 "recent actions (last hour)").
func (s *Store) ActionsForAgentSince(agentID string, since time.Time) ([]*types.AgentAction, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, action_type, task_id, timestamp, details
		FROM agent_actions WHERE agent_id = ? AND timestamp >= ? ORDER BY timestamp DESC`, agentID, since)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list actions for agent %s: %w", agentID, err))
	}
	defer rows.Close()
	return scanActions(rows)
}

// ActionsForTask returns every action referencing a task, in chronological
// order. ListTasksForAgent does not call it; it joins agent_actions in its
// own query.
func (s *Store) ActionsForTask(taskID string) ([]*types.AgentAction, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, action_type, task_id, timestamp, details
		FROM agent_actions WHERE task_id = ? ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list actions for task %s: %w", taskID, err))
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]*types.AgentAction, error) {
	var out []*types.AgentAction
	for rows.Next() {
		var a types.AgentAction
		var taskID sql.NullString
		var raw string
		if err := rows.Scan(&a.ID, &a.AgentID, &a.ActionType, &taskID, &a.Timestamp, &raw); err != nil {
			return nil, types.WrapStorage(fmt.Errorf("scan action: %w", err))
		}
		a.TaskID = taskID.String
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &a.Details); err != nil {
				return nil, types.WrapInternal("unmarshal action details: " + err.Error())
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
