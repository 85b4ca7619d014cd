package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// UpsertContext writes a project-context entry, last-writer-wins (§4.1).
func (s *Store) UpsertContext(key string, value any, updatedBy, description string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return types.WrapInternal("marshal context value: " + err.Error())
	}
	_, err = s.db.Exec(`
		INSERT INTO project_context (context_key, value, description, last_updated, updated_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(context_key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			last_updated = excluded.last_updated,
			updated_by = excluded.updated_by`,
		key, string(raw), description, time.Now(), updatedBy,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("upsert context %s: %w", key, err))
	}
	return nil
}

// GetContext fetches one context entry, or ErrNotFound.
func (s *Store) GetContext(key string) (*types.ContextEntry, error) {
	var e types.ContextEntry
	var raw string
	err := s.db.QueryRow(`SELECT context_key, value, description, last_updated, updated_by FROM project_context WHERE context_key = ?`, key).
		Scan(&e.ContextKey, &raw, &e.Description, &e.LastUpdated, &e.UpdatedBy)
	if err == sql.ErrNoRows {
		return nil, types.WrapNotFound("context", key)
	}
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("get context %s: %w", key, err))
	}
	if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
		return nil, types.WrapInternal("unmarshal context value: " + err.Error())
	}
	return &e, nil
}

// ListContext returns every context entry (used by the testing-agent audit
// summary and the memory-category tools).
func (s *Store) ListContext() ([]*types.ContextEntry, error) {
	rows, err := s.db.Query(`SELECT context_key, value, description, last_updated, updated_by FROM project_context ORDER BY last_updated DESC`)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list context: %w", err))
	}
	defer rows.Close()

	var out []*types.ContextEntry
	for rows.Next() {
		var e types.ContextEntry
		var raw string
		if err := rows.Scan(&e.ContextKey, &raw, &e.Description, &e.LastUpdated, &e.UpdatedBy); err != nil {
			return nil, types.WrapStorage(fmt.Errorf("scan context row: %w", err))
		}
		if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
			return nil, types.WrapInternal("unmarshal context value: " + err.Error())
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ArchiveContext moves a context value under archived_<key>_<epoch_ms>, then
// deletes the original, in one transaction (§4.1 archive_context, §8
// "Context archive roundtrip").
func (s *Store) ArchiveContext(key, reason, archiverAgentID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var raw, description string
		err := tx.QueryRow(`SELECT value, description FROM project_context WHERE context_key = ?`, key).Scan(&raw, &description)
		if err == sql.ErrNoRows {
			return types.WrapNotFound("context", key)
		}
		if err != nil {
			return fmt.Errorf("read context %s for archive: %w", key, err)
		}

		archiveKey := fmt.Sprintf("archived_%s_%d", key, time.Now().UnixMilli())
		archived := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &archived); err != nil {
			// Original value need not be an object; wrap it instead of failing.
			archived = map[string]any{}
		}
		envelope := map[string]any{
			"original_key":   key,
			"original_value": json.RawMessage(raw),
			"reason":         reason,
			"archived_by":    archiverAgentID,
		}
		envBytes, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("marshal archive envelope for %s: %w", key, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO project_context (context_key, value, description, last_updated, updated_by)
			VALUES (?, ?, ?, ?, ?)`,
			archiveKey, string(envBytes), description, time.Now(), archiverAgentID,
		); err != nil {
			return fmt.Errorf("insert archive %s: %w", archiveKey, err)
		}

		res, err := tx.Exec(`DELETE FROM project_context WHERE context_key = ?`, key)
		if err != nil {
			return fmt.Errorf("delete original context %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.WrapNotFound("context", key)
		}
		return nil
	})
}
