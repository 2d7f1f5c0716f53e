package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coolstack/crac-risk/internal/config"
	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/utils"
)

var base = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type fakeAlarmSource struct {
	records []models.AlarmRecord
	err     error
}

func (f *fakeAlarmSource) FetchAlarms(ctx context.Context, since time.Time) ([]models.AlarmRecord, error) {
	return f.records, f.err
}

type fakeMaintenance struct {
	records map[string]models.MaintenanceRecord
	err     error
}

func (f *fakeMaintenance) LastMaintenance(ctx context.Context) (map[string]models.MaintenanceRecord, error) {
	return f.records, f.err
}

func testConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		SeverityThreshold: 6,
		RiskThreshold:     0.8,
		HorizonHours:      5000,
		LookbackDays:      180,
		SamplePoints:      500,
		Trees:             50,
		Seed:              42,
	}
}

func alarm(unit string, hours float64, desc string, sev int) models.AlarmRecord {
	return models.AlarmRecord{
		Unit:        unit,
		Timestamp:   base.Add(time.Duration(hours * float64(time.Hour))),
		Description: desc,
		Severity:    sev,
	}
}

// failureHistory produces a corpus rich enough to train on: one unit failing
// repeatedly plus stable units with long censored histories.
func failureHistory() []models.AlarmRecord {
	var recs []models.AlarmRecord
	h := 0.0
	for i := 0; i < 12; i++ {
		recs = append(recs, alarm("flaky", h, "High Return Temperature", 4))
		recs = append(recs, alarm("flaky", h+6, "Humidity drift", 3))
		recs = append(recs, alarm("flaky", h+18, "Compressor Drive Failure", 7))
		h += 20 + float64(i)
	}
	for _, unit := range []string{"stable-1", "stable-2"} {
		for i := 0; i < 4; i++ {
			recs = append(recs, alarm(unit, float64(i*200), "Routine filter notice", 2))
		}
	}
	return recs
}

func newTestPipeline(source AlarmSource, maintenance MaintenanceSource) *Pipeline {
	p := NewPipeline(nil, source, maintenance, nil, nil, testConfig())
	return p.WithClock(func() time.Time { return base.Add(2000 * time.Hour) })
}

func TestRunFullCycle(t *testing.T) {
	source := &fakeAlarmSource{records: failureHistory()}
	pipeline := newTestPipeline(source, nil)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if snapshot.Model == nil {
		t.Fatalf("expected trained model, got training note %q", snapshot.TrainingNote)
	}
	if len(snapshot.Units) != 3 {
		t.Fatalf("expected 3 units, got %v", snapshot.Units)
	}
	if len(snapshot.Intervals) == 0 {
		t.Fatal("expected intervals")
	}
	if _, ok := snapshot.Projections["flaky"]; !ok {
		t.Fatal("expected projection for flaky unit")
	}
	if len(snapshot.FailureModes["flaky"]) == 0 {
		t.Fatal("expected failure modes for flaky unit")
	}
	if snapshot.FeatureNames[0] != "total_alarms" {
		t.Fatalf("unexpected feature order: %v", snapshot.FeatureNames)
	}
	if !snapshot.ReferenceTime.Equal(base.Add(2000 * time.Hour).UTC()) {
		t.Fatalf("reference time not taken from injected clock: %v", snapshot.ReferenceTime)
	}
}

func TestRunSharedReferenceInstant(t *testing.T) {
	source := &fakeAlarmSource{records: failureHistory()}
	pipeline := newTestPipeline(source, nil)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, iv := range snapshot.Intervals {
		if !iv.Event && !iv.End.Equal(snapshot.ReferenceTime) {
			t.Fatalf("censored interval for %s ends at %v, want shared reference %v",
				iv.Unit, iv.End, snapshot.ReferenceTime)
		}
	}
}

func TestRunInsufficientHistoryStillReturnsIntervals(t *testing.T) {
	// Two units, one failure total: below the trainer's minimums.
	records := []models.AlarmRecord{
		alarm("a", 0, "Routine notice", 2),
		alarm("a", 10, "Compressor Drive Failure", 7),
		alarm("a", 20, "Routine notice", 2),
		alarm("b", 0, "Routine notice", 2),
	}
	pipeline := newTestPipeline(&fakeAlarmSource{records: records}, nil)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("insufficient history must not be an error: %v", err)
	}
	if snapshot.Model != nil {
		t.Fatal("expected no model")
	}
	if snapshot.TrainingNote == "" {
		t.Fatal("expected training note explaining the skip")
	}
	if len(snapshot.Intervals) == 0 {
		t.Fatal("interval table must be returned even without a model")
	}
	if len(snapshot.Projections) != 0 {
		t.Fatalf("no projections expected without a model, got %v", snapshot.Projections)
	}
}

func TestRunEmptyDatasetFailsLoudly(t *testing.T) {
	pipeline := newTestPipeline(&fakeAlarmSource{}, nil)

	_, err := pipeline.Run(context.Background())
	if err == nil {
		t.Fatal("expected input-shape error for empty dataset")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
}

func TestRunSourceErrorPropagates(t *testing.T) {
	pipeline := newTestPipeline(&fakeAlarmSource{err: errors.New("connection refused")}, nil)
	if _, err := pipeline.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

func TestRunDropsMalformedRows(t *testing.T) {
	records := append(failureHistory(),
		models.AlarmRecord{Unit: "", Timestamp: base, Description: "orphan", Severity: 5},
		models.AlarmRecord{Unit: "ghost", Description: "no timestamp", Severity: 5},
	)
	pipeline := newTestPipeline(&fakeAlarmSource{records: records}, nil)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, unit := range snapshot.Units {
		if unit == "" || unit == "ghost" {
			t.Fatalf("malformed rows leaked into units: %v", snapshot.Units)
		}
	}
}

func TestRunSerialBackfill(t *testing.T) {
	cfg := testConfig()
	cfg.SerialMap = map[string]string{"flaky": "JK1142005099"}
	pipeline := NewPipeline(nil, &fakeAlarmSource{records: failureHistory()}, nil, nil, nil, cfg).
		WithClock(func() time.Time { return base.Add(2000 * time.Hour) })

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snapshot.Serials["flaky"] != "JK1142005099" {
		t.Fatalf("serial backfill missing: %v", snapshot.Serials)
	}
}

func TestRunMergesMaintenance(t *testing.T) {
	maint := &fakeMaintenance{records: map[string]models.MaintenanceRecord{
		"JK1142005099": {Serial: "JK1142005099", Client: "FANALCA", LastVisit: base},
	}}
	pipeline := newTestPipeline(&fakeAlarmSource{records: failureHistory()}, maint)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snapshot.Maintenance["JK1142005099"].Client != "FANALCA" {
		t.Fatalf("maintenance records not merged: %v", snapshot.Maintenance)
	}
}

func TestRunMaintenanceFailureIsNonFatal(t *testing.T) {
	maint := &fakeMaintenance{err: errors.New("api down")}
	pipeline := newTestPipeline(&fakeAlarmSource{records: failureHistory()}, maint)

	snapshot, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("maintenance failure must not abort the cycle: %v", err)
	}
	if snapshot.Maintenance != nil {
		t.Fatalf("expected no maintenance data, got %v", snapshot.Maintenance)
	}
}
