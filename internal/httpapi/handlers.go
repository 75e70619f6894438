package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/maintwatch/internal/alerting"
	"github.com/plantops/maintwatch/internal/observ"
)

// APIResponse is the uniform envelope for every JSON endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg})
}

// respondFromError maps the pipeline error taxonomy onto status codes.
// Validation and state errors carry their message verbatim.
func respondFromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerting.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alerting.ErrInvalidInput), errors.Is(err, alerting.ErrInvalidState):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alerting.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		observ.LogError("request_failed", err, nil)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type submitSampleRequest struct {
	MachineID string             `json:"machine_id"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
	Sensors   map[string]float64 `json:"sensors"`
}

func (a *API) handleSubmitSample(w http.ResponseWriter, r *http.Request) {
	var req submitSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MachineID == "" || len(req.Sensors) == 0 {
		respondError(w, http.StatusBadRequest, "machine_id and sensors are required")
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	ids, err := a.engine.Submit(r.Context(), alerting.Sample{
		MachineID: req.MachineID,
		Timestamp: ts,
		Sensors:   req.Sensors,
	})
	if err != nil {
		respondFromError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"alert_ids": ids})
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.store.ListActiveAlerts(r.Context(), r.URL.Query().Get("machine_id"))
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (a *API) handleAlertStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.lifecycle.Stats(r.Context())
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type operatorRequest struct {
	OperatorID string `json:"operator_id"`
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alert, err := a.lifecycle.Acknowledge(r.Context(), chi.URLParam(r, "id"), req.OperatorID)
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alert_id":        alert.ID,
		"state":           alert.State,
		"acknowledged_at": alert.AcknowledgedAt,
	})
}

func (a *API) handleStartWork(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	alert, err := a.lifecycle.StartWork(r.Context(), chi.URLParam(r, "id"), req.OperatorID)
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alert_id": alert.ID,
		"state":    alert.State,
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	var in alerting.ResolveInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	log, err := a.lifecycle.Resolve(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"log_id":      log.ID,
		"alert_id":    log.AlertID,
		"resolved_at": log.ResolvedAt,
	})
}

func (a *API) handleListLogs(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	since := time.Now().AddDate(0, 0, -days)
	logs, err := a.store.ListLogs(r.Context(), r.URL.Query().Get("machine_id"), since)
	if err != nil {
		respondFromError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (a *API) handleForecast(w http.ResponseWriter, r *http.Request) {
	horizon := 48
	if v := r.URL.Query().Get("horizon_hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 24*14 {
			respondError(w, http.StatusBadRequest, "horizon_hours must be between 1 and 336")
			return
		}
		horizon = parsed
	}

	res := a.engine.Forecast(chi.URLParam(r, "id"), horizon)
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleWindowStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.engine.WindowStatus(chi.URLParam(r, "id")))
}

func (a *API) handlePredictionTrend(w http.ResponseWriter, r *http.Request) {
	windowMinutes := 30
	if v := r.URL.Query().Get("window_minutes"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "window_minutes must be a positive integer")
			return
		}
		windowMinutes = parsed
	}

	trend := a.engine.PredictionTrend(chi.URLParam(r, "id"), time.Duration(windowMinutes)*time.Minute)
	respondJSON(w, http.StatusOK, trend)
}

type failureRequest struct {
	MachineID string `json:"machine_id"`
	EventType string `json:"event_type"`
}

func (a *API) handleRecordFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MachineID == "" || req.EventType == "" {
		respondError(w, http.StatusBadRequest, "machine_id and event_type are required")
		return
	}

	matched := a.engine.Metrics().RecordFailure(req.MachineID, req.EventType)
	respondJSON(w, http.StatusOK, map[string]any{
		"matched_prediction": matched != "",
		"prediction_id":      matched,
	})
}

func (a *API) handlePredictionMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.engine.Metrics().Compute())
}
