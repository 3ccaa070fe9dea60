package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"smsrelay/models"
)

// PutSetting creates or replaces a preference value.
func (s *Store) PutSetting(setting models.Setting) error {
	if setting.Key == "" {
		return errors.New("setting key is required")
	}
	if setting.Type == "" {
		setting.Type = "string"
	}
	_, err := s.q.Exec(
		`INSERT INTO settings (key, value_type, value) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_type = excluded.value_type, value = excluded.value`,
		setting.Key,
		setting.Type,
		setting.Value,
	)
	if err != nil {
		return fmt.Errorf("put setting %q: %w", setting.Key, err)
	}
	return nil
}

// GetSetting returns a preference value by key.
func (s *Store) GetSetting(key string) (*models.Setting, error) {
	setting := models.Setting{Key: key}
	err := s.q.QueryRow(`SELECT value_type, value FROM settings WHERE key = ?`, key).Scan(&setting.Type, &setting.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return &setting, nil
}
