package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// CreateTask inserts a new task row and its dependency edges in one
// transaction. Fails with ErrValidation if parent_task would introduce a
// cycle, or if parent_task/assigned_to reference a non-existent id.
func (s *Store) CreateTask(t *types.Task, dependsOn []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if t.ParentTask != "" {
			if err := s.checkTaskExistsTx(tx, t.ParentTask); err != nil {
				return err
			}
			cycle, err := s.wouldCycleTx(tx, t.TaskID, t.ParentTask)
			if err != nil {
				return err
			}
			if cycle {
				return types.WrapValidation(fmt.Sprintf("parent_task %s would create a cycle for task %s", t.ParentTask, t.TaskID))
			}
		}
		if t.AssignedTo != "" && canonicalAdmin(t.AssignedTo) == "" {
			if err := s.checkAgentExistsTx(tx, t.AssignedTo); err != nil {
				return err
			}
		}

		_, err := tx.Exec(`
			INSERT INTO tasks (task_id, title, description, assigned_to, created_by, status, priority, parent_task, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TaskID, t.Title, t.Description, nullString(t.AssignedTo), t.CreatedBy, string(t.Status), string(t.Priority), nullString(t.ParentTask), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return types.WrapConflict("task", t.TaskID)
			}
			return fmt.Errorf("insert task %s: %w", t.TaskID, err)
		}

		for _, dep := range dependsOn {
			if err := s.checkTaskExistsTx(tx, dep); err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)`, t.TaskID, dep); err != nil {
				return fmt.Errorf("insert dependency %s->%s: %w", t.TaskID, dep, err)
			}
		}
		return nil
	})
}

// AssignTaskToAgent sets a task's assigned_to/status and the agent's
// current_task in one atomic write (§4.1 assign_task_to_agent).
func (s *Store) AssignTaskToAgent(taskID, agentID string, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		if canonicalAdmin(agentID) == "" {
			if err := s.checkAgentExistsTx(tx, agentID); err != nil {
				return err
			}
		}
		res, err := tx.Exec(`UPDATE tasks SET assigned_to = ?, status = ?, updated_at = ? WHERE task_id = ?`,
			agentID, string(types.TaskPending), now, taskID)
		if err != nil {
			return fmt.Errorf("assign task %s: %w", taskID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return types.WrapNotFound("task", taskID)
		}
		if canonicalAdmin(agentID) == "" {
			if err := s.setAgentCurrentTask(tx, agentID, taskID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetTaskStatus updates a task's status field, recording the transition
// time. Used by complete_task and cancellation/failure paths.
func (s *Store) SetTaskStatus(taskID string, status types.TaskStatus) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`, string(status), time.Now(), taskID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("set task status %s: %w", taskID, err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.WrapNotFound("task", taskID)
	}
	return nil
}

// UpdateTaskDescriptionAndStatus replaces a task's description and resets
// its status in one write, used by the testing-agent pipeline when a
// completed task's validation task already exists (§4.6.1 "its description
// is replaced and its status reset to pending").
func (s *Store) UpdateTaskDescriptionAndStatus(taskID, description string, status types.TaskStatus) error {
	res, err := s.db.Exec(`UPDATE tasks SET description = ?, status = ?, updated_at = ? WHERE task_id = ?`,
		description, string(status), time.Now(), taskID)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("update task description %s: %w", taskID, err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.WrapNotFound("task", taskID)
	}
	return nil
}

// AppendTaskNote appends one note to a task's ordered note sequence,
// preserving insertion order (§4.1 append_task_note).
func (s *Store) AppendTaskNote(taskID string, note types.TaskNote) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := s.checkTaskExistsTx(tx, taskID); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO task_notes (task_id, ts, author, content) VALUES (?, ?, ?, ?)`,
			taskID, note.Timestamp, note.Author, note.Content); err != nil {
			return fmt.Errorf("append note to task %s: %w", taskID, err)
		}
		_, err := tx.Exec(`UPDATE tasks SET updated_at = ? WHERE task_id = ?`, time.Now(), taskID)
		return err
	})
}

// GetTask fetches one task with its notes, in insertion order.
func (s *Store) GetTask(taskID string) (*types.Task, error) {
	row := s.db.QueryRow(`
		SELECT task_id, title, description, assigned_to, created_by, status, priority, parent_task, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	notes, err := s.taskNotes(taskID)
	if err != nil {
		return nil, err
	}
	t.Notes = notes
	return t, nil
}

func (s *Store) taskNotes(taskID string) ([]types.TaskNote, error) {
	rows, err := s.db.Query(`SELECT ts, author, content FROM task_notes WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list notes for task %s: %w", taskID, err))
	}
	defer rows.Close()
	var out []types.TaskNote
	for rows.Next() {
		var n types.TaskNote
		if err := rows.Scan(&n.Timestamp, &n.Author, &n.Content); err != nil {
			return nil, types.WrapStorage(fmt.Errorf("scan note: %w", err))
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListTasksForAgent returns every task assigned to, or acted on by, the
// given agent id. "admin" and "Admin" canonicalize to the same set (§4.1).
func (s *Store) ListTasksForAgent(agentID string) ([]*types.Task, error) {
	id := agentID
	if c := canonicalAdmin(agentID); c != "" {
		id = c
	}

	var query string
	var args []interface{}
	if id == types.AdminAgentID {
		query = `
			SELECT DISTINCT t.task_id, t.title, t.description, t.assigned_to, t.created_by, t.status, t.priority, t.parent_task, t.created_at, t.updated_at
			FROM tasks t
			LEFT JOIN agent_actions a ON a.task_id = t.task_id
			WHERE lower(t.assigned_to) = ? OR lower(a.agent_id) = ?
			ORDER BY t.created_at ASC`
		args = []interface{}{types.AdminAgentID, types.AdminAgentID}
	} else {
		query = `
			SELECT DISTINCT t.task_id, t.title, t.description, t.assigned_to, t.created_by, t.status, t.priority, t.parent_task, t.created_at, t.updated_at
			FROM tasks t
			LEFT JOIN agent_actions a ON a.task_id = t.task_id
			WHERE t.assigned_to = ? OR a.agent_id = ?
			ORDER BY t.created_at ASC`
		args = []interface{}{id, id}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list tasks for agent %s: %w", agentID, err))
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasks returns tasks filtered by status, most recently updated first,
// bounded by limit (0 = unbounded). Used by the resource catalog's
// task:// listing (§4.4, "50 most relevant").
func (s *Store) ListTasks(statuses []types.TaskStatus, limit int) ([]*types.Task, error) {
	query := `SELECT task_id, title, description, assigned_to, created_by, status, priority, parent_task, created_at, updated_at FROM tasks`
	var args []interface{}
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list tasks: %w", err))
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTask removes a task. Per the cascade policy this implementation
// commits to (DESIGN.md "Open Question decisions"), deleting a parent task
// also deletes every descendant task and its dependency rows, in one
// transaction.
func (s *Store) DeleteTask(taskID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		return s.deleteTaskRecursiveTx(tx, taskID)
	})
}

func (s *Store) deleteTaskRecursiveTx(tx *sql.Tx, taskID string) error {
	rows, err := tx.Query(`SELECT task_id FROM tasks WHERE parent_task = ?`, taskID)
	if err != nil {
		return fmt.Errorf("list children of task %s: %w", taskID, err)
	}
	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan child task id: %w", err)
		}
		children = append(children, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, child := range children {
		if err := s.deleteTaskRecursiveTx(tx, child); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_task_id = ?`, taskID, taskID); err != nil {
		return fmt.Errorf("delete dependencies for task %s: %w", taskID, err)
	}
	if _, err := tx.Exec(`DELETE FROM task_notes WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete notes for task %s: %w", taskID, err)
	}
	res, err := tx.Exec(`DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.WrapNotFound("task", taskID)
	}
	return nil
}

func (s *Store) checkTaskExistsTx(tx *sql.Tx, taskID string) error {
	var id string
	err := tx.QueryRow(`SELECT task_id FROM tasks WHERE task_id = ?`, taskID).Scan(&id)
	if err == sql.ErrNoRows {
		return types.WrapNotFound("task", taskID)
	}
	if err != nil {
		return fmt.Errorf("check task %s exists: %w", taskID, err)
	}
	return nil
}

func (s *Store) checkAgentExistsTx(tx *sql.Tx, agentID string) error {
	var id string
	err := tx.QueryRow(`SELECT agent_id FROM agents WHERE agent_id = ?`, agentID).Scan(&id)
	if err == sql.ErrNoRows {
		return types.WrapNotFound("agent", agentID)
	}
	if err != nil {
		return fmt.Errorf("check agent %s exists: %w", agentID, err)
	}
	return nil
}

// wouldCycleTx walks parent_task pointers starting from candidateParent and
// reports whether taskID appears among its ancestors (which would make
// taskID its own descendant once the edge is added).
func (s *Store) wouldCycleTx(tx *sql.Tx, taskID, candidateParent string) (bool, error) {
	current := candidateParent
	for i := 0; i < 10000; i++ {
		if current == taskID {
			return true, nil
		}
		var parent sql.NullString
		err := tx.QueryRow(`SELECT parent_task FROM tasks WHERE task_id = ?`, current).Scan(&parent)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("walk parent chain from %s: %w", current, err)
		}
		if !parent.Valid || parent.String == "" {
			return false, nil
		}
		current = parent.String
	}
	return false, types.WrapInternal("parent_task chain exceeds 10000 hops, likely corrupt")
}

// canonicalAdmin returns types.AdminAgentID if id is a case-insensitive
// match for the admin literal, else "".
func canonicalAdmin(id string) string {
	if strings.EqualFold(id, types.AdminAgentID) {
		return types.AdminAgentID
	}
	return ""
}

func scanTask(row *sql.Row) (*types.Task, error) {
	var t types.Task
	var assignedTo, parentTask sql.NullString
	err := row.Scan(&t.TaskID, &t.Title, &t.Description, &assignedTo, &t.CreatedBy, &t.Status, &t.Priority, &parentTask, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.WrapNotFound("task", "")
		}
		return nil, types.WrapStorage(fmt.Errorf("scan task: %w", err))
	}
	t.AssignedTo = assignedTo.String
	t.ParentTask = parentTask.String
	return &t, nil
}

func scanTaskRows(rows *sql.Rows) (*types.Task, error) {
	var t types.Task
	var assignedTo, parentTask sql.NullString
	err := rows.Scan(&t.TaskID, &t.Title, &t.Description, &assignedTo, &t.CreatedBy, &t.Status, &t.Priority, &parentTask, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("scan task row: %w", err))
	}
	t.AssignedTo = assignedTo.String
	t.ParentTask = parentTask.String
	return &t, nil
}
