package risk

import (
	"testing"
	"time"

	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/survival"
)

func ptr(v float64) *float64 { return &v }

func interval(unit string, durationHours float64, event bool, totalAlarms, last24h int, tsla *float64, elapsed float64) models.Interval {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.Interval{
		Unit:                unit,
		Start:               start,
		End:                 start.Add(time.Duration(durationHours * float64(time.Hour))),
		DurationHours:       durationHours,
		Event:               event,
		TotalAlarms:         totalAlarms,
		AlarmsLast24h:       last24h,
		TimeSinceLastAlarmH: tsla,
		CurrentTimeElapsed:  elapsed,
	}
}

// corpus trains a model where units resembling "noisy" fail within tens of
// hours while "quiet" units survive far beyond the grid.
func corpus() []models.Interval {
	var ivs []models.Interval
	for i := 0; i < 12; i++ {
		ivs = append(ivs, interval("noisy", 10+float64(i*3), true, 40+i, 8, ptr(0.5), 5))
	}
	for i := 0; i < 12; i++ {
		ivs = append(ivs, interval("quiet", 900+float64(i*10), false, 2, 0, ptr(300), 100))
	}
	return ivs
}

func trainedModel(t *testing.T, ivs []models.Interval) *survival.Model {
	t.Helper()
	model, _, err := survival.NewTrainer(nil, survival.Params{Trees: 50, Seed: 42}).Train(ivs)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return model
}

func TestTimeToThresholdReached(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	proj, err := projector.TimeToThreshold(model, ivs, "noisy", 0.8, 5000)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if proj.HoursToThreshold == nil || proj.RiskAtThreshold == nil || proj.CurrentElapsedHours == nil {
		t.Fatalf("expected full projection, got %+v", proj)
	}
	if *proj.CurrentElapsedHours != 5 {
		t.Fatalf("t0 = %f, want 5", *proj.CurrentElapsedHours)
	}
	if !proj.Reached(5000) {
		t.Fatalf("expected threshold reached inside horizon, got %f hours", *proj.HoursToThreshold)
	}
	if *proj.RiskAtThreshold < 0.8 {
		t.Fatalf("risk at threshold = %f, want >= 0.8", *proj.RiskAtThreshold)
	}
}

func TestTimeToThresholdCrossingConsistency(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	const threshold = 0.8
	const horizon = 5000.0
	proj, err := projector.TimeToThreshold(model, ivs, "noisy", threshold, horizon)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if !proj.Reached(horizon) {
		t.Skip("threshold not reached; crossing consistency not applicable")
	}

	latest := ivs[11] // most recent noisy interval
	fv := survival.Features(latest).ZeroFilled()
	sf, err := model.SurvivalFunction(fv)
	if err != nil {
		t.Fatalf("survival function: %v", err)
	}

	t0 := *proj.CurrentElapsedHours
	crossing := t0 + *proj.HoursToThreshold
	if got := 1 - sf.Eval(crossing); got < threshold {
		t.Fatalf("risk at crossing = %f, want >= %f", got, threshold)
	}

	// The immediately preceding sample point must still be below threshold.
	step := horizon / 499
	if crossing-step > t0 {
		if got := 1 - sf.Eval(crossing - step); got >= threshold {
			t.Fatalf("risk one sample before crossing = %f, want < %f", got, threshold)
		}
	}
}

func TestTimeToThresholdCappedAtHorizon(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	// A quiet unit's risk never reaches 0.8 on this corpus: its leaves are
	// dominated by censored samples, so survival stays high over the grid.
	proj, err := projector.TimeToThreshold(model, ivs, "quiet", 0.8, 5000)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if proj.HoursToThreshold == nil {
		t.Fatal("expected capped projection, got all-nil")
	}
	if *proj.HoursToThreshold != 5000 {
		t.Fatalf("expected capped at 5000h, got %f", *proj.HoursToThreshold)
	}
	if *proj.RiskAtThreshold >= 0.8 {
		t.Fatalf("capped risk = %f, want < 0.8", *proj.RiskAtThreshold)
	}
	if proj.Reached(5000) {
		t.Fatal("capped projection must not report reached")
	}
}

func TestTimeToThresholdUnknownUnit(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	proj, err := projector.TimeToThreshold(model, ivs, "missing", 0.8, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proj.HoursToThreshold != nil || proj.RiskAtThreshold != nil || proj.CurrentElapsedHours != nil {
		t.Fatalf("expected all-nil projection for unknown unit, got %+v", proj)
	}
}

func TestTimeToThresholdValidatesInputs(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	if _, err := projector.TimeToThreshold(model, ivs, "noisy", 0, 5000); err == nil {
		t.Fatal("expected error for zero risk threshold")
	}
	if _, err := projector.TimeToThreshold(model, ivs, "noisy", 1.2, 5000); err == nil {
		t.Fatal("expected error for risk threshold > 1")
	}
	if _, err := projector.TimeToThreshold(model, ivs, "noisy", 0.8, -10); err == nil {
		t.Fatal("expected error for negative horizon")
	}
	if _, err := projector.TimeToThreshold(nil, ivs, "noisy", 0.8, 5000); err == nil {
		t.Fatal("expected error for nil model")
	}
}

func TestRiskMonotoneOverScan(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)

	latest := ivs[11]
	fv := survival.Features(latest).ZeroFilled()
	sf, err := model.SurvivalFunction(fv)
	if err != nil {
		t.Fatalf("survival function: %v", err)
	}

	t0 := latest.CurrentTimeElapsed
	prev := -1.0
	for i := 0; i < 500; i++ {
		tt := t0 + 5000*float64(i)/499
		riskAt := 1 - sf.Eval(tt)
		if riskAt < prev-1e-12 {
			t.Fatalf("risk decreased at sample %d: %f < %f", i, riskAt, prev)
		}
		prev = riskAt
	}
}

func TestCurrentRisk(t *testing.T) {
	ivs := corpus()
	model := trainedModel(t, ivs)
	projector := NewProjector(nil, 500)

	noisy, err := projector.CurrentRisk(model, ivs, "noisy")
	if err != nil || noisy == nil {
		t.Fatalf("noisy current risk: %v %v", noisy, err)
	}
	if *noisy < 0 || *noisy > 1 {
		t.Fatalf("current risk out of range: %f", *noisy)
	}

	missing, err := projector.CurrentRisk(model, ivs, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil risk for unknown unit, got %f", *missing)
	}
}
