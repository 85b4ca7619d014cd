package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// UpsertSessionState upserts a per-(agent, session, key) state value (§3
// Per-session agent state).
func (s *Store) UpsertSessionState(st *types.SessionState) error {
	raw, err := json.Marshal(st.StateValue)
	if err != nil {
		return types.WrapInternal("marshal session state value: " + err.Error())
	}
	_, err = s.db.Exec(`
		INSERT INTO session_agent_state (agent_id, mcp_session_id, state_key, state_value, last_updated, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, mcp_session_id, state_key) DO UPDATE SET
			state_value = excluded.state_value,
			last_updated = excluded.last_updated,
			expires_at = excluded.expires_at`,
		st.AgentID, st.MCPSessionID, st.StateKey, string(raw), time.Now(), st.ExpiresAt,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("upsert session state %s/%s/%s: %w", st.AgentID, st.MCPSessionID, st.StateKey, err))
	}
	return nil
}

// GetSessionState fetches one state value, or ErrNotFound if absent or
// expired.
func (s *Store) GetSessionState(agentID, sessionID, key string) (*types.SessionState, error) {
	var st types.SessionState
	var raw string
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT agent_id, mcp_session_id, state_key, state_value, last_updated, expires_at
		FROM session_agent_state WHERE agent_id = ? AND mcp_session_id = ? AND state_key = ?`,
		agentID, sessionID, key,
	).Scan(&st.AgentID, &st.MCPSessionID, &st.StateKey, &raw, &st.LastUpdated, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, types.WrapNotFound("session_state", key)
	}
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("get session state: %w", err))
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		st.ExpiresAt = &t
		if time.Now().After(t) {
			return nil, types.WrapNotFound("session_state", key)
		}
	}
	if err := json.Unmarshal([]byte(raw), &st.StateValue); err != nil {
		return nil, types.WrapInternal("unmarshal session state value: " + err.Error())
	}
	return &st, nil
}

// PurgeExpiredSessionState deletes every state row past its expiry. The
// session sweeper does not call it; GetSessionState already reports an
// expired row as not found.
func (s *Store) PurgeExpiredSessionState(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM session_agent_state WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, types.WrapStorage(fmt.Errorf("purge expired session state: %w", err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
