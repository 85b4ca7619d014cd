package store

import (
	"database/sql"
	"fmt"

	"github.com/fleetforge/fleetd/internal/types"
)

// GetAdminConfig reads one admin_config row (the sole use today is the
// singleton admin_token row, §3).
func (s *Store) GetAdminConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT config_value FROM admin_config WHERE config_key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", types.WrapNotFound("admin_config", key)
	}
	if err != nil {
		return "", types.WrapStorage(fmt.Errorf("get admin config %s: %w", key, err))
	}
	return value, nil
}

// SetAdminConfigIfAbsent writes key=value only if it does not already
// exist, returning the value that ends up stored (idempotent initialize,
// §4.2 initialize_admin_token).
func (s *Store) SetAdminConfigIfAbsent(key, value string) (string, error) {
	var stored string
	err := s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT config_value FROM admin_config WHERE config_key = ?`, key).Scan(&stored)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("read admin config %s: %w", key, err)
		}
		if _, err := tx.Exec(`INSERT INTO admin_config (config_key, config_value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("insert admin config %s: %w", key, err)
		}
		stored = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}
