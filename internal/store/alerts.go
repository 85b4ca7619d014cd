package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// AddAlert persists an operational alert (SPEC_FULL §3 supplemented
// feature), grounded on the teacher's persistence/store.go AddAlert, backed
// by the relational Store instead of the teacher's JSON-file state.
func (s *Store) AddAlert(alert *types.Alert) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts (alert_id, alert_type, agent_id, task_id, message, severity, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Type, nullString(alert.AgentID), nullString(alert.TaskID), alert.Message, alert.Severity, alert.CreatedAt, alert.Acknowledged,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("add alert %s: %w", alert.ID, err))
	}
	return nil
}

// AcknowledgeAlert marks one alert acknowledged.
func (s *Store) AcknowledgeAlert(id string) error {
	_, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE alert_id = ?`, id)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("acknowledge alert %s: %w", id, err))
	}
	return nil
}

// ActiveAlerts returns every unacknowledged alert, newest first.
func (s *Store) ActiveAlerts() ([]*types.Alert, error) {
	rows, err := s.db.Query(`
		SELECT alert_id, alert_type, agent_id, task_id, message, severity, created_at, acknowledged
		FROM alerts WHERE acknowledged = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list active alerts: %w", err))
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// CountAlertsByType counts alerts of the given type raised since the given
// time, used by internal/metrics' threshold checker to decide whether a
// rate of individually-raised alerts has crossed an escalation threshold.
func (s *Store) CountAlertsByType(alertType string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM alerts WHERE alert_type = ? AND created_at >= ?`,
		alertType, since,
	).Scan(&n)
	if err != nil {
		return 0, types.WrapStorage(fmt.Errorf("count alerts by type %s: %w", alertType, err))
	}
	return n, nil
}

// LastTaskActivity returns the most recent task update timestamp, used to
// detect a stalled pipeline (no task has moved in PipelineStallMax).
func (s *Store) LastTaskActivity() (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT updated_at FROM tasks ORDER BY updated_at DESC LIMIT 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, types.WrapStorage(fmt.Errorf("last task activity: %w", err))
	}
	return t, nil
}

func scanAlerts(rows *sql.Rows) ([]*types.Alert, error) {
	var out []*types.Alert
	for rows.Next() {
		var a types.Alert
		var agentID, taskID sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &agentID, &taskID, &a.Message, &a.Severity, &a.CreatedAt, &a.Acknowledged); err != nil {
			return nil, types.WrapStorage(fmt.Errorf("scan alert: %w", err))
		}
		a.AgentID = agentID.String
		a.TaskID = taskID.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
