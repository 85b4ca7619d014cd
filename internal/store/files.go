package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleetd/internal/types"
)

// UpsertFileMetadata upserts the per-file audit row by absolute, normalized
// path (§3 File metadata).
func (s *Store) UpsertFileMetadata(m *types.FileMetadata) error {
	raw, err := json.Marshal(m.Metadata)
	if err != nil {
		return types.WrapInternal("marshal file metadata: " + err.Error())
	}
	_, err = s.db.Exec(`
		INSERT INTO file_metadata (filepath, metadata, last_updated, updated_by, content_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			metadata = excluded.metadata,
			last_updated = excluded.last_updated,
			updated_by = excluded.updated_by,
			content_hash = excluded.content_hash`,
		m.FilePath, string(raw), time.Now(), m.UpdatedBy, m.ContentHash,
	)
	if err != nil {
		return types.WrapStorage(fmt.Errorf("upsert file metadata %s: %w", m.FilePath, err))
	}
	return nil
}

// GetFileMetadata fetches one file's metadata row.
func (s *Store) GetFileMetadata(path string) (*types.FileMetadata, error) {
	var m types.FileMetadata
	var raw string
	err := s.db.QueryRow(`SELECT filepath, metadata, last_updated, updated_by, content_hash FROM file_metadata WHERE filepath = ?`, path).
		Scan(&m.FilePath, &raw, &m.LastUpdated, &m.UpdatedBy, &m.ContentHash)
	if err == sql.ErrNoRows {
		return nil, types.WrapNotFound("file_metadata", path)
	}
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("get file metadata %s: %w", path, err))
	}
	if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
		return nil, types.WrapInternal("unmarshal file metadata: " + err.Error())
	}
	return &m, nil
}

// FilesUpdatedSince lists files touched at or after since, for the
// testing-agent audit summary.
func (s *Store) FilesUpdatedSince(since time.Time, updatedBy string) ([]*types.FileMetadata, error) {
	rows, err := s.db.Query(`
		SELECT filepath, metadata, last_updated, updated_by, content_hash
		FROM file_metadata WHERE last_updated >= ? AND updated_by = ? ORDER BY last_updated DESC`, since, updatedBy)
	if err != nil {
		return nil, types.WrapStorage(fmt.Errorf("list files updated since: %w", err))
	}
	defer rows.Close()

	var out []*types.FileMetadata
	for rows.Next() {
		var m types.FileMetadata
		var raw string
		if err := rows.Scan(&m.FilePath, &raw, &m.LastUpdated, &m.UpdatedBy, &m.ContentHash); err != nil {
			return nil, types.WrapStorage(fmt.Errorf("scan file metadata row: %w", err))
		}
		if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
			return nil, types.WrapInternal("unmarshal file metadata: " + err.Error())
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
