package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// OpenAlert inserts a new open episode
func (r *PostgresStore) OpenAlert(ctx context.Context, a models.Alert) (string, error) {
	if a.ID == "" {
		return "", fmt.Errorf("alert id is required")
	}

	triggered, err := json.Marshal(a.Triggered)
	if err != nil {
		return "", fmt.Errorf("failed to marshal triggered flags: %w", err)
	}
	bounds, err := json.Marshal(a.Bounds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bounds: %w", err)
	}

	query := `
		INSERT INTO vital_alerts (alert_id, group_name, alert_type, severity, triggered, bounds, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		a.ID, a.Group, a.Type, a.Severity, triggered, bounds, a.StartedAt,
	); err != nil {
		return "", fmt.Errorf("failed to open alert: %w", err)
	}

	r.logger.Info("Alert opened",
		zap.String("alert_id", a.ID),
		zap.String("group", a.Group),
		zap.String("type", a.Type),
		zap.String("severity", a.Severity),
	)
	return a.ID, nil
}

// UpdateAlertBounds refreshes min/max, triggered flags and severity of an open alert
func (r *PostgresStore) UpdateAlertBounds(ctx context.Context, a models.Alert) error {
	triggered, err := json.Marshal(a.Triggered)
	if err != nil {
		return fmt.Errorf("failed to marshal triggered flags: %w", err)
	}
	bounds, err := json.Marshal(a.Bounds)
	if err != nil {
		return fmt.Errorf("failed to marshal bounds: %w", err)
	}

	query := `
		UPDATE vital_alerts
		SET bounds = $2, triggered = $3, severity = $4
		WHERE alert_id = $1 AND ended_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, a.ID, bounds, triggered, a.Severity)
	if err != nil {
		return fmt.Errorf("failed to update alert bounds: %w", err)
	}
	return expectOneRow(res)
}

// CloseAlert sets the end time and resolution of an open alert
func (r *PostgresStore) CloseAlert(ctx context.Context, alertID, resolution string, endedAt time.Time) error {
	query := `
		UPDATE vital_alerts
		SET ended_at = $2, resolution = $3
		WHERE alert_id = $1 AND ended_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, alertID, endedAt, resolution)
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	r.logger.Info("Alert closed",
		zap.String("alert_id", alertID),
		zap.String("resolution", resolution),
	)
	return nil
}

// AcknowledgeAlert marks the alert acknowledged with supplemental data, closing it if still open
func (r *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID string, ack models.Acknowledgement, at time.Time) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("failed to marshal acknowledgement: %w", err)
	}

	query := `
		UPDATE vital_alerts
		SET acknowledged = TRUE,
		    ack_data = $2,
		    acknowledged_at = $3,
		    ended_at = COALESCE(ended_at, $3),
		    resolution = COALESCE(resolution, $4)
		WHERE alert_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, alertID, data, at, models.ResolutionAcknowledged)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return expectOneRow(res)
}

// ListOpenAlerts alerts with no end time, oldest first
func (r *PostgresStore) ListOpenAlerts(ctx context.Context) ([]models.Alert, error) {
	query := `
		SELECT alert_id, group_name, alert_type, severity, triggered, bounds, started_at, acknowledged
		FROM vital_alerts
		WHERE ended_at IS NULL
		ORDER BY started_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var triggered, bounds []byte
		if err := rows.Scan(&a.ID, &a.Group, &a.Type, &a.Severity, &triggered, &bounds, &a.StartedAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := json.Unmarshal(triggered, &a.Triggered); err != nil {
			return nil, fmt.Errorf("failed to unmarshal triggered flags: %w", err)
		}
		if err := json.Unmarshal(bounds, &a.Bounds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounds: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// GetUnacknowledgedAlertCount number of alerts nobody has acknowledged yet
func (r *PostgresStore) GetUnacknowledgedAlertCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vital_alerts WHERE acknowledged = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unacknowledged alerts: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}
