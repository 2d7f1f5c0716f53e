package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/coolstack/crac-risk/internal/engine"
	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/risk"
	"github.com/coolstack/crac-risk/internal/survival"
)

type fakeService struct {
	snapshot *engine.Snapshot
	lastErr  error
	cycleErr error
	cycles   int
}

func (f *fakeService) Snapshot() *engine.Snapshot { return f.snapshot }
func (f *fakeService) LastError() error           { return f.lastErr }
func (f *fakeService) RunCycle(context.Context) error {
	f.cycles++
	return f.cycleErr
}

func ptr(v float64) *float64 { return &v }

func trainedModel(t *testing.T) *survival.Model {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ivs []models.Interval
	for i := 0; i < 10; i++ {
		ivs = append(ivs, models.Interval{
			Unit: "noisy", Start: start,
			End:           start.Add(time.Duration(10+i*2) * time.Hour),
			DurationHours: float64(10 + i*2), Event: true,
			TotalAlarms: 40 + i, AlarmsLast24h: 8, TimeSinceLastAlarmH: ptr(0.5),
		})
		ivs = append(ivs, models.Interval{
			Unit: "quiet", Start: start,
			End:           start.Add(time.Duration(900+i*10) * time.Hour),
			DurationHours: float64(900 + i*10), Event: false,
			TotalAlarms: 2, AlarmsLast24h: 0, TimeSinceLastAlarmH: ptr(300),
		})
	}
	model, _, err := survival.NewTrainer(nil, survival.Params{Trees: 20, Seed: 42}).Train(ivs)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return model
}

func testSnapshot(t *testing.T) *engine.Snapshot {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	hours := 120.0
	riskAt := 0.85
	elapsed := 5.0
	return &engine.Snapshot{
		GeneratedAt:   now,
		ReferenceTime: now,
		Units:         []string{"noisy", "quiet"},
		Intervals: []models.Interval{
			{Unit: "noisy", Start: now.Add(-50 * time.Hour), End: now.Add(-10 * time.Hour),
				DurationHours: 40, Event: true, TotalAlarms: 12, AlarmsLast24h: 3},
			{Unit: "quiet", Start: now.Add(-500 * time.Hour), End: now,
				DurationHours: 500, Event: false, TotalAlarms: 2},
		},
		FeatureNames: append([]string(nil), survival.FeatureNames...),
		Model:        trainedModel(t),
		Projections: map[string]risk.Projection{
			"noisy": {HoursToThreshold: &hours, RiskAtThreshold: &riskAt, CurrentElapsedHours: &elapsed},
			"quiet": {},
		},
		CurrentRisk:  map[string]float64{"noisy": 0.42},
		FailureModes: map[string][]string{"noisy": {"Compressor Drive Failure"}},
		Serials:      map[string]string{"noisy": "JK1142005099"},
		Maintenance: map[string]models.MaintenanceRecord{
			"JK1142005099": {Serial: "JK1142005099", Client: "FANALCA", LastVisit: now.Add(-30 * 24 * time.Hour)},
		},
	}
}

func newTestRouter(service SnapshotProvider) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(nil, service).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthBeforeFirstCycle(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "starting" {
		t.Fatalf("expected starting status, got %v", resp["status"])
	}
}

func TestHealthDegradedAfterFailedCycle(t *testing.T) {
	router := newTestRouter(&fakeService{
		snapshot: testSnapshot(t),
		lastErr:  errors.New("db down"),
	})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/health")

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %v", resp["status"])
	}
	if resp["last_error"] != "db down" {
		t.Fatalf("expected last_error, got %v", resp["last_error"])
	}
}

func TestUnitsListing(t *testing.T) {
	router := newTestRouter(&fakeService{snapshot: testSnapshot(t)})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/units")

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Units []unitSummary `json:"units"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(resp.Units))
	}
	noisy := resp.Units[0]
	if noisy.Unit != "noisy" || noisy.Serial != "JK1142005099" {
		t.Fatalf("unexpected first unit: %+v", noisy)
	}
	if noisy.CurrentRiskPct == nil || *noisy.CurrentRiskPct != 42 {
		t.Fatalf("expected 42%% current risk, got %+v", noisy.CurrentRiskPct)
	}
	if noisy.MaintainedBy != "FANALCA" {
		t.Fatalf("expected maintenance merge, got %+v", noisy)
	}
}

func TestUnitsUnavailableBeforeFirstCycle(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/units")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestUnitRisk(t *testing.T) {
	router := newTestRouter(&fakeService{snapshot: testSnapshot(t)})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/units/noisy/risk")

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp unitRiskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.HoursToThreshold == nil || *resp.HoursToThreshold != 120 {
		t.Fatalf("unexpected hours: %+v", resp.HoursToThreshold)
	}
	if resp.TimeToThreshold != "5d" {
		t.Fatalf("expected formatted 5d, got %q", resp.TimeToThreshold)
	}
	if resp.RiskAtThresholdPct == nil || *resp.RiskAtThresholdPct != 85 {
		t.Fatalf("unexpected risk pct: %+v", resp.RiskAtThresholdPct)
	}
}

func TestUnitRiskUnknownUnit(t *testing.T) {
	router := newTestRouter(&fakeService{snapshot: testSnapshot(t)})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/units/ghost/risk")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestUnitRiskWithoutModel(t *testing.T) {
	snapshot := testSnapshot(t)
	snapshot.Model = nil
	snapshot.TrainingNote = "insufficient history"
	router := newTestRouter(&fakeService{snapshot: snapshot})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/units/noisy/risk")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestIntervalsFilteredByUnit(t *testing.T) {
	router := newTestRouter(&fakeService{snapshot: testSnapshot(t)})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/intervals?unit=noisy")

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Intervals []intervalRow `json:"intervals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Intervals) != 1 || resp.Intervals[0].Unit != "noisy" {
		t.Fatalf("unexpected filter result: %+v", resp.Intervals)
	}
}

func TestIntervalsUnknownUnit(t *testing.T) {
	router := newTestRouter(&fakeService{snapshot: testSnapshot(t)})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/intervals?unit=ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAnalyzeTriggersCycle(t *testing.T) {
	service := &fakeService{snapshot: testSnapshot(t)}
	router := newTestRouter(service)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/analyze")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if service.cycles != 1 {
		t.Fatalf("expected one cycle, got %d", service.cycles)
	}
}

func TestAnalyzeSurfacesCycleError(t *testing.T) {
	service := &fakeService{snapshot: testSnapshot(t), cycleErr: errors.New("boom")}
	router := newTestRouter(service)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/analyze")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
}
