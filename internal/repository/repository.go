package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-vitals/internal/models"
)

var (
	// ErrAlertNotFound no alert with the given id
	ErrAlertNotFound = errors.New("alert not found")
	// ErrThresholdNotFound no stored threshold for the signal
	ErrThresholdNotFound = errors.New("threshold not found")
)

// Storage persistence operations used by the monitor, the fan-out hub and the API.
// Storage knows nothing about "one open alert per group"; the monitor enforces that.
type Storage interface {
	SaveReading(ctx context.Context, r models.Reading) (int64, error)
	OpenAlert(ctx context.Context, a models.Alert) (string, error)
	UpdateAlertBounds(ctx context.Context, a models.Alert) error
	CloseAlert(ctx context.Context, alertID, resolution string, endedAt time.Time) error
	AcknowledgeAlert(ctx context.Context, alertID string, ack models.Acknowledgement, at time.Time) error
	ListOpenAlerts(ctx context.Context) ([]models.Alert, error)
	GetRecentReadings(ctx context.Context, kind string, limit int) ([]models.Reading, error)
	GetUnacknowledgedAlertCount(ctx context.Context) (int, error)
	GetThreshold(ctx context.Context, signal string) (models.Threshold, error)
	GetDueCounts(ctx context.Context, within time.Duration) (models.DueCounts, error)
}
