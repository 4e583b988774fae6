package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ReferenceWidth is the known real-world width of objects with a label.
type ReferenceWidth struct {
	Label     string
	Meters    float64
	UpdatedAt time.Time
}

// CalibrationRepository provides CRUD operations for reference widths.
type CalibrationRepository struct {
	db *sql.DB
}

// Calibration returns the calibration repository for this store.
func (s *Store) Calibration() *CalibrationRepository {
	return &CalibrationRepository{db: s.db}
}

// Set inserts or replaces the reference width of a label.
func (r *CalibrationRepository) Set(label string, meters float64) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return errors.New("label is required")
	}
	if meters <= 0 {
		return fmt.Errorf("width must be positive, got %v", meters)
	}

	_, err := r.db.Exec(
		`INSERT INTO reference_widths (label, width_m, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET width_m = excluded.width_m, updated_at = excluded.updated_at`,
		label, meters, time.Now(),
	)
	return err
}

// Get retrieves the reference width of a label.
func (r *CalibrationRepository) Get(label string) (*ReferenceWidth, error) {
	w := &ReferenceWidth{}

	err := r.db.QueryRow(
		`SELECT label, width_m, updated_at FROM reference_widths WHERE label = ?`,
		label,
	).Scan(&w.Label, &w.Meters, &w.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return w, nil
}

// List retrieves all reference widths ordered by label.
func (r *CalibrationRepository) List() ([]*ReferenceWidth, error) {
	rows, err := r.db.Query(
		`SELECT label, width_m, updated_at FROM reference_widths ORDER BY label`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var widths []*ReferenceWidth
	for rows.Next() {
		w := &ReferenceWidth{}
		if err := rows.Scan(&w.Label, &w.Meters, &w.UpdatedAt); err != nil {
			return nil, err
		}
		widths = append(widths, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return widths, nil
}

// Delete removes the reference width of a label.
func (r *CalibrationRepository) Delete(label string) error {
	result, err := r.db.Exec(`DELETE FROM reference_widths WHERE label = ?`, label)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
