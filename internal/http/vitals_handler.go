package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// EventSender bus hand-off for events originating in request goroutines
type EventSender interface {
	TrySend(evt events.Event, topic string, timeout time.Duration) bool
}

// AlertService acknowledgement and alert-state reads, satisfied by *monitor.Monitor
type AlertService interface {
	Acknowledge(ctx context.Context, alertID string, ack models.Acknowledgement) error
	Snapshot() monitor.State
}

// SnapshotSource full dashboard snapshot, satisfied by *realtime.Hub
type SnapshotSource interface {
	Snapshot(ctx context.Context) models.Snapshot
}

type VitalsHandler struct {
	Bus         EventSender
	Alerts      AlertService
	Snapshots   SnapshotSource
	Kinds       map[string][]string // vital kind -> accepted signal names
	SendTimeout time.Duration
	Logger      *zap.Logger
}

type recordVitalRequest struct {
	Kind      string             `json:"kind"`
	Values    map[string]float64 `json:"values"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
}

type acknowledgeRequest struct {
	By          string   `json:"by"`
	Note        string   `json:"note"`
	OxygenUsage *float64 `json:"oxygen_usage,omitempty"`
	OxygenUnit  string   `json:"oxygen_unit,omitempty"`
}

// RecordVital POST /api/v1/vitals; the reading is announced once the monitor has stored it
func (h *VitalsHandler) RecordVital(w http.ResponseWriter, r *http.Request) {
	var req recordVitalRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if msg := h.validateVital(req); msg != "" {
		writeJSON(w, http.StatusBadRequest, Fail(msg))
		return
	}

	at := time.Now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = *req.Timestamp
	}

	evt := events.NewVitalSignRecorded(events.SourceAPI, at, 0, req.Kind, req.Values, true)
	if !h.Bus.TrySend(evt, "", h.SendTimeout) {
		writeJSON(w, http.StatusServiceUnavailable, Fail("event bus busy, retry later"))
		return
	}

	h.Logger.Info("Manual vital accepted", zap.String("kind", req.Kind), zap.Int("values", len(req.Values)))
	writeJSON(w, http.StatusAccepted, Ok(map[string]any{"kind": req.Kind, "timestamp": at}))
}

func (h *VitalsHandler) validateVital(req recordVitalRequest) string {
	if req.Kind == "" {
		return "kind is required"
	}
	if len(req.Values) == 0 {
		return "values are required"
	}
	signals, known := h.Kinds[req.Kind]
	if len(h.Kinds) > 0 && !known {
		return "unknown vital kind: " + req.Kind
	}
	allowed := make(map[string]bool, len(signals))
	for _, s := range signals {
		allowed[s] = true
	}
	for name, v := range req.Values {
		if len(allowed) > 0 && !allowed[name] {
			return "unknown signal for " + req.Kind + ": " + name
		}
		if v < 0 {
			return "negative value for " + name
		}
	}
	return ""
}

// AcknowledgeAlert POST /api/v1/alerts/{id}/acknowledge
func (h *VitalsHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var req acknowledgeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	err := h.Alerts.Acknowledge(r.Context(), alertID, models.Acknowledgement{
		By:          req.By,
		Note:        req.Note,
		OxygenUsage: req.OxygenUsage,
		OxygenUnit:  req.OxygenUnit,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Ok(map[string]string{"alert_id": alertID}))
	case errors.Is(err, repository.ErrAlertNotFound):
		writeJSON(w, http.StatusNotFound, Fail("alert not found"))
	case errors.Is(err, monitor.ErrNotRunning):
		writeJSON(w, http.StatusServiceUnavailable, Fail(err.Error()))
	default:
		h.Logger.Error("Failed to acknowledge alert", zap.String("alert_id", alertID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to acknowledge alert"))
	}
}

// GetState GET /api/v1/state
func (h *VitalsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.Snapshots.Snapshot(r.Context())))
}

// GetAlertState GET /api/v1/alerts/state
func (h *VitalsHandler) GetAlertState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.Alerts.Snapshot()))
}
