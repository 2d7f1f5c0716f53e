package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coolstack/crac-risk/internal/engine"
	"github.com/coolstack/crac-risk/internal/utils"
)

// SnapshotProvider exposes the analysis state needed by the HTTP handlers.
type SnapshotProvider interface {
	Snapshot() *engine.Snapshot
	LastError() error
	RunCycle(ctx context.Context) error
}

// Handlers serves the risk-engine HTTP endpoints from the latest snapshot.
type Handlers struct {
	logger  *slog.Logger
	service SnapshotProvider
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(logger *slog.Logger, service SnapshotProvider) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, service: service}
}

// Register mounts all routes on the supplied router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/units", h.handleUnits).Methods(http.MethodGet)
	router.HandleFunc("/units/{unit}/risk", h.handleUnitRisk).Methods(http.MethodGet)
	router.HandleFunc("/intervals", h.handleIntervals).Methods(http.MethodGet)
	router.HandleFunc("/analyze", h.handleAnalyze).Methods(http.MethodPost)
}

type healthResponse struct {
	Status       string     `json:"status"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
	ModelTrained bool       `json:"model_trained"`
	TrainingNote string     `json:"training_note,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if err := h.service.LastError(); err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
	}
	if snapshot := h.service.Snapshot(); snapshot != nil {
		resp.GeneratedAt = &snapshot.GeneratedAt
		resp.ModelTrained = snapshot.Model != nil
		resp.TrainingNote = snapshot.TrainingNote
	} else if resp.Status == "ok" {
		resp.Status = "starting"
	}
	writeJSON(w, http.StatusOK, resp)
}

type unitSummary struct {
	Unit             string   `json:"unit"`
	Serial           string   `json:"serial,omitempty"`
	CurrentRiskPct   *float64 `json:"current_risk_pct,omitempty"`
	HoursToThreshold *float64 `json:"hours_to_threshold,omitempty"`
	TimeToThreshold  string   `json:"time_to_threshold,omitempty"`
	FailureModes     []string `json:"failure_modes,omitempty"`
	MaintainedBy     string   `json:"maintained_by,omitempty"`
	LastMaintenance  string   `json:"last_maintenance,omitempty"`
}

func (h *Handlers) handleUnits(w http.ResponseWriter, r *http.Request) {
	snapshot := h.service.Snapshot()
	if snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no analysis snapshot yet")
		return
	}

	units := make([]unitSummary, 0, len(snapshot.Units))
	for _, unit := range snapshot.Units {
		summary := unitSummary{
			Unit:         unit,
			Serial:       snapshot.Serials[unit],
			FailureModes: snapshot.FailureModes[unit],
		}
		if risk, ok := snapshot.CurrentRisk[unit]; ok {
			pct := riskPercent(risk)
			summary.CurrentRiskPct = &pct
		}
		if proj, ok := snapshot.Projections[unit]; ok && proj.HoursToThreshold != nil {
			summary.HoursToThreshold = proj.HoursToThreshold
			summary.TimeToThreshold = utils.FormatHours(*proj.HoursToThreshold)
		}
		if rec, ok := snapshot.Maintenance[summary.Serial]; ok {
			summary.MaintainedBy = rec.Client
			summary.LastMaintenance = rec.LastVisit.Format(time.RFC3339)
		}
		units = append(units, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": snapshot.GeneratedAt,
		"units":        units,
	})
}

type unitRiskResponse struct {
	Unit                string   `json:"unit"`
	HoursToThreshold    *float64 `json:"hours_to_threshold,omitempty"`
	TimeToThreshold     string   `json:"time_to_threshold"`
	RiskAtThresholdPct  *float64 `json:"risk_at_threshold_pct,omitempty"`
	CurrentElapsedHours *float64 `json:"current_elapsed_hours,omitempty"`
	CurrentRiskPct      *float64 `json:"current_risk_pct,omitempty"`
}

func (h *Handlers) handleUnitRisk(w http.ResponseWriter, r *http.Request) {
	snapshot := h.service.Snapshot()
	if snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no analysis snapshot yet")
		return
	}
	if snapshot.Model == nil {
		writeError(w, http.StatusConflict, "no trained model: "+snapshot.TrainingNote)
		return
	}

	unit := mux.Vars(r)["unit"]
	proj, ok := snapshot.Projections[unit]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown unit "+unit)
		return
	}

	resp := unitRiskResponse{
		Unit:                unit,
		HoursToThreshold:    proj.HoursToThreshold,
		TimeToThreshold:     "N/A",
		CurrentElapsedHours: proj.CurrentElapsedHours,
	}
	if proj.HoursToThreshold != nil {
		resp.TimeToThreshold = utils.FormatHours(*proj.HoursToThreshold)
	}
	if proj.RiskAtThreshold != nil {
		pct := riskPercent(*proj.RiskAtThreshold)
		resp.RiskAtThresholdPct = &pct
	}
	if risk, ok := snapshot.CurrentRisk[unit]; ok {
		pct := riskPercent(risk)
		resp.CurrentRiskPct = &pct
	}
	writeJSON(w, http.StatusOK, resp)
}

type intervalRow struct {
	Unit                string   `json:"unit"`
	Start               string   `json:"start"`
	End                 string   `json:"end"`
	DurationHours       float64  `json:"duration_hours"`
	Event               bool     `json:"event"`
	TotalAlarms         int      `json:"total_alarms"`
	AlarmsLast24h       int      `json:"alarms_last_24h"`
	TimeSinceLastAlarmH *float64 `json:"time_since_last_alarm_h,omitempty"`
	CurrentTimeElapsed  float64  `json:"current_time_elapsed"`
}

func (h *Handlers) handleIntervals(w http.ResponseWriter, r *http.Request) {
	snapshot := h.service.Snapshot()
	if snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no analysis snapshot yet")
		return
	}

	unitFilter := r.URL.Query().Get("unit")
	rows := make([]intervalRow, 0, len(snapshot.Intervals))
	for _, iv := range snapshot.Intervals {
		if unitFilter != "" && iv.Unit != unitFilter {
			continue
		}
		rows = append(rows, intervalRow{
			Unit:                iv.Unit,
			Start:               iv.Start.Format(time.RFC3339),
			End:                 iv.End.Format(time.RFC3339),
			DurationHours:       iv.DurationHours,
			Event:               iv.Event,
			TotalAlarms:         iv.TotalAlarms,
			AlarmsLast24h:       iv.AlarmsLast24h,
			TimeSinceLastAlarmH: iv.TimeSinceLastAlarmH,
			CurrentTimeElapsed:  iv.CurrentTimeElapsed,
		})
	}
	if unitFilter != "" && len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no intervals for unit "+unitFilter)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": snapshot.GeneratedAt,
		"intervals":    rows,
	})
}

func (h *Handlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RunCycle(r.Context()); err != nil {
		h.logger.Error("on-demand analysis failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snapshot := h.service.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"generated_at":  snapshot.GeneratedAt,
		"units":         len(snapshot.Units),
		"model_trained": snapshot.Model != nil,
	})
}

// riskPercent rounds a probability to a display percentage with two decimals.
func riskPercent(p float64) float64 {
	return float64(int(p*10000+0.5)) / 100
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
