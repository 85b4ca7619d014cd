package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// InitSession inserts a new MCP session persistence row (§4.1 init_session).
func (s *Store) InitSession(rec *types.SessionRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return types.WrapInternal("marshal session metadata: " + err.Error())
	}
	var agentCtx []byte
	if rec.AgentContext != nil {
		agentCtx, err = json.Marshal(rec.AgentContext)
		if err != nil {
			return types.WrapInternal("marshal session agent context: " + err.Error())
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO mcp_session_persistence
			(mcp_session_id, transport_state, created_at, last_heartbeat, status, disconnected_at, grace_period_expires, recovery_attempts, working_directory, metadata, agent_context, conversation_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MCPSessionID, rec.TransportState, rec.CreatedAt, rec.LastHeartbeat, string(rec.Status),
		rec.DisconnectedAt, rec.GracePeriodExpires, rec.RecoveryAttempts, rec.WorkingDirectory,
		string(meta), nullableBytes(agentCtx), rec.ConversationState,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.WrapConflict("mcp_session", rec.MCPSessionID)
		}
		return types.WrapStorage(fmt.Errorf("init session %s: %w", rec.MCPSessionID, err))
	}
	return nil
}

// GetSession fetches one session persistence row.
func (s *Store) GetSession(sessionID string) (*types.SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT mcp_session_id, transport_state, created_at, last_heartbeat, status, disconnected_at, grace_period_expires, recovery_attempts, working_directory, metadata, agent_context, conversation_state
		FROM mcp_session_persistence WHERE mcp_session_id = ?`, sessionID)
	return scanSession(row)
}

// UpdateHeartbeat pushes last_heartbeat=now for an active session (§4.5).
func (s *Store) UpdateHeartbeat(sessionID string, now time.Time) error {
	res, err := s.db.Exec(`UPDATE mcp_session_persistence SET last_heartbeat = ? WHERE mcp_session_id = ?`, now, sessionID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("update heartbeat %s: %w", sessionID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.WrapNotFound("mcp_session", sessionID)
	}
	return nil
}

// MarkDisconnected transitions a session to disconnected and opens its
// recovery grace window (§4.5).
func (s *Store) MarkDisconnected(sessionID string, now time.Time, grace time.Duration) error {
	expires := now.Add(grace)
	res, err := s.db.Exec(`
		UPDATE mcp_session_persistence
		SET status = ?, disconnected_at = ?, grace_period_expires = ?
		WHERE mcp_session_id = ?`,
		string(types.SessionDisconnected), now, expires, sessionID,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("mark disconnected %s: %w", sessionID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.WrapNotFound("mcp_session", sessionID)
	}
	return nil
}

// CanRecover implements can_recover(sid) (§4.5, §8 "Session recovery window").
func (s *Store) CanRecover(sessionID string, now time.Time) (bool, error) {
	rec, err := s.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.Status != types.SessionActive && rec.Status != types.SessionDisconnected {
		return false, nil
	}
	if rec.GracePeriodExpires != nil && !now.Before(*rec.GracePeriodExpires) {
		return false, nil
	}
	if rec.RecoveryAttempts >= types.MaxRecoveryAttempts {
		return false, nil
	}
	return true, nil
}

// TryRecover increments recovery_attempts, restarts the heartbeat clock, and
// marks status=recovered, returning ErrRecoveryDenied if ineligible
// (§4.5 try_recover, §8 "Recovery monotonicity", "At-most-three recoveries").
func (s *Store) TryRecover(sessionID string, now time.Time) (*types.SessionRecord, error) {
	var rec *types.SessionRecord
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT mcp_session_id, transport_state, created_at, last_heartbeat, status, disconnected_at, grace_period_expires, recovery_attempts, working_directory, metadata, agent_context, conversation_state
			FROM mcp_session_persistence WHERE mcp_session_id = ?`, sessionID)
		r, err := scanSessionRow(row)
		if err == sql.ErrNoRows {
			return types.ErrRecoveryDenied
		}
		if err != nil {
			return fmt.Errorf("read session %s for recovery: %w", sessionID, err)
		}
		eligible := (r.Status == types.SessionActive || r.Status == types.SessionDisconnected) &&
			(r.GracePeriodExpires == nil || now.Before(*r.GracePeriodExpires)) &&
			r.RecoveryAttempts < types.MaxRecoveryAttempts
		if !eligible {
			return types.ErrRecoveryDenied
		}

		_, err = tx.Exec(`
			UPDATE mcp_session_persistence
			SET status = ?, recovery_attempts = recovery_attempts + 1, last_heartbeat = ?, disconnected_at = NULL, grace_period_expires = NULL
			WHERE mcp_session_id = ?`,
			string(types.SessionRecovered), now, sessionID,
		)
		if err != nil {
			return fmt.Errorf("recover session %s: %w", sessionID, err)
		}
		r.Status = types.SessionRecovered
		r.RecoveryAttempts++
		r.LastHeartbeat = now
		r.DisconnectedAt = nil
		r.GracePeriodExpires = nil
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetSessionActive transitions status to active on the first heartbeat
// after recovery (§9 Open Question: "status becomes recovered then active").
func (s *Store) SetSessionActive(sessionID string) error {
	_, err := s.db.Exec(`UPDATE mcp_session_persistence SET status = ? WHERE mcp_session_id = ? AND status = ?`,
		string(types.SessionActive), sessionID, string(types.SessionRecovered))
	if err != nil {
		return types.WrapStorage(fmt.Errorf("set session active %s: %w", sessionID, err))
	}
	return nil
}

// ExpirePastGrace marks every disconnected session whose grace window has
// elapsed as expired; idempotent (§4.1 expire_past_grace, §5 "idempotent").
func (s *Store) ExpirePastGrace(now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE mcp_session_persistence
		SET status = ?
		WHERE status = ? AND grace_period_expires IS NOT NULL AND grace_period_expires <= ?`,
		string(types.SessionExpired), string(types.SessionDisconnected), now,
	)
	if err != nil {
		return 0, types.WrapStorage(fmt.Errorf("expire past grace: %w", err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListSessions returns every persisted session row (for GET /sessions).
func (s *Store) ListSessions() ([]*types.SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT mcp_session_id, transport_state, created_at, last_heartbeat, status, disconnected_at, grace_period_expires, recovery_attempts, working_directory, metadata, agent_context, conversation_state
		FROM mcp_session_persistence ORDER BY created_at DESC`)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list sessions: %w", err))
	}
	defer rows.Close()

	var out []*types.SessionRecord
	for rows.Next() {
		r, err := scanSessionRow(rows)
		if err != nil {
			return nil, types.WrapStorage(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row *sql.Row) (*types.SessionRecord, error) {
	r, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, types.WrapNotFound("mcp_session", "")
	}
	if err != nil {
		return nil, types.WrapStorage(err)
	}
	return r, nil
}

func scanSessionRow(sc scanner) (*types.SessionRecord, error) {
	var r types.SessionRecord
	var status string
	var disconnectedAt, graceExpires sql.NullTime
	var metaRaw string
	var agentCtxRaw sql.NullString

	err := sc.Scan(&r.MCPSessionID, &r.TransportState, &r.CreatedAt, &r.LastHeartbeat, &status,
		&disconnectedAt, &graceExpires, &r.RecoveryAttempts, &r.WorkingDirectory, &metaRaw, &agentCtxRaw, &r.ConversationState)
	if err != nil {
		return nil, err
	}
	r.Status = types.SessionStatus(status)
	if disconnectedAt.Valid {
		t := disconnectedAt.Time
		r.DisconnectedAt = &t
	}
	if graceExpires.Valid {
		t := graceExpires.Time
		r.GracePeriodExpires = &t
	}
	if metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	if agentCtxRaw.Valid && agentCtxRaw.String != "" {
		if err := json.Unmarshal([]byte(agentCtxRaw.String), &r.AgentContext); err != nil {
			return nil, fmt.Errorf("unmarshal session agent context: %w", err)
		}
	}
	return &r, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
