package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"
)

// GetThreshold stored band for signal, or ErrThresholdNotFound
func (r *PostgresStore) GetThreshold(ctx context.Context, signal string) (models.Threshold, error) {
	query := `
		SELECT signal, low, high, severe_low, severe_high
		FROM vital_thresholds
		WHERE signal = $1
	`

	var t models.Threshold
	err := r.db.QueryRowContext(ctx, query, signal).Scan(&t.Signal, &t.Low, &t.High, &t.SevereLow, &t.SevereHigh)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Threshold{}, ErrThresholdNotFound
		}
		return models.Threshold{}, fmt.Errorf("failed to get threshold: %w", err)
	}
	return t, nil
}

// GetDueCounts open equipment/medication items due within the given horizon
func (r *PostgresStore) GetDueCounts(ctx context.Context, within time.Duration) (models.DueCounts, error) {
	query := `
		SELECT category, COUNT(*)
		FROM care_schedule
		WHERE completed = FALSE AND due_at <= $1
		GROUP BY category
	`

	rows, err := r.db.QueryContext(ctx, query, time.Now().Add(within))
	if err != nil {
		return models.DueCounts{}, fmt.Errorf("failed to query due counts: %w", err)
	}
	defer rows.Close()

	var counts models.DueCounts
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return models.DueCounts{}, fmt.Errorf("failed to scan due count: %w", err)
		}
		switch category {
		case "equipment":
			counts.Equipment = n
		case "medication":
			counts.Medication = n
		}
	}
	if err := rows.Err(); err != nil {
		return models.DueCounts{}, fmt.Errorf("failed to iterate due counts: %w", err)
	}
	return counts, nil
}
