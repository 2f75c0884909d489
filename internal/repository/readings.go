package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// SaveReading stores one raw reading and returns its id
func (r *PostgresStore) SaveReading(ctx context.Context, reading models.Reading) (int64, error) {
	if reading.Kind == "" {
		return 0, fmt.Errorf("reading kind is required")
	}

	vals, err := json.Marshal(reading.Values)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal reading values: %w", err)
	}

	query := `
		INSERT INTO vital_readings (kind, vals, status, source, manual, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING reading_id
	`

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		reading.Kind,
		vals,
		reading.Status,
		reading.Source,
		reading.Manual,
		reading.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save reading: %w", err)
	}

	r.logger.Debug("Reading saved",
		zap.Int64("reading_id", id),
		zap.String("kind", reading.Kind),
	)
	return id, nil
}

// GetRecentReadings newest first, at most limit rows
func (r *PostgresStore) GetRecentReadings(ctx context.Context, kind string, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return []models.Reading{}, nil
	}

	query := `
		SELECT reading_id, kind, vals, status, source, manual, recorded_at
		FROM vital_readings
		WHERE kind = $1
		ORDER BY recorded_at DESC, reading_id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.Reading, 0, limit)
	for rows.Next() {
		var reading models.Reading
		var vals []byte
		if err := rows.Scan(
			&reading.ID,
			&reading.Kind,
			&vals,
			&reading.Status,
			&reading.Source,
			&reading.Manual,
			&reading.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if err := json.Unmarshal(vals, &reading.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading values: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}
