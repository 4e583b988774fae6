package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Setting keys
const (
	SettingFocalLength = "focal_length"
)

// SettingsRepository reads and writes key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// FocalLength returns the calibrated focal length in pixels.
func (r *SettingsRepository) FocalLength() (float64, error) {
	value, err := r.Get(SettingFocalLength)
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", SettingFocalLength, err)
	}
	return f, nil
}

// SetFocalLength stores the calibrated focal length in pixels.
func (r *SettingsRepository) SetFocalLength(pixels float64) error {
	if pixels <= 0 {
		return fmt.Errorf("focal length must be positive, got %v", pixels)
	}
	return r.Set(SettingFocalLength, strconv.FormatFloat(pixels, 'f', -1, 64))
}
