// Package risk projects a unit's fitted survival curve forward to find when
// failure risk crosses an operator threshold.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/survival"
)

// Projection is the per-unit risk output. All pointers are nil when the unit
// has no intervals or the model yields no survival function for it.
type Projection struct {
	HoursToThreshold    *float64
	RiskAtThreshold     *float64
	CurrentElapsedHours *float64
}

// Reached reports whether the projection crossed the threshold inside the
// horizon. A capped answer carries HoursToThreshold equal to the horizon.
func (p Projection) Reached(maxHorizonHours float64) bool {
	return p.HoursToThreshold != nil && *p.HoursToThreshold < maxHorizonHours
}

// Projector evaluates conditional survival curves on a fixed sampling grid.
type Projector struct {
	logger       *slog.Logger
	samplePoints int
}

// NewProjector constructs a Projector. samplePoints <= 1 falls back to the
// production resolution of 500.
func NewProjector(logger *slog.Logger, samplePoints int) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	if samplePoints <= 1 {
		samplePoints = 500
	}
	return &Projector{logger: logger, samplePoints: samplePoints}
}

// TimeToThreshold scans the unit's conditional risk curve forward from its
// current elapsed time t0 and returns the hours until risk reaches
// riskThreshold. When the threshold is never reached inside the horizon it
// returns the capped triple (maxHorizonHours, risk at the horizon, t0);
// callers distinguish "reached" from "capped" by comparing HoursToThreshold
// to the horizon.
func (p *Projector) TimeToThreshold(model *survival.Model, intervals []models.Interval, unit string, riskThreshold, maxHorizonHours float64) (Projection, error) {
	if riskThreshold <= 0 || riskThreshold > 1 {
		return Projection{}, fmt.Errorf("risk threshold must be in (0,1], got %v", riskThreshold)
	}
	if maxHorizonHours <= 0 {
		return Projection{}, fmt.Errorf("max horizon must be positive, got %v", maxHorizonHours)
	}

	sf, t0, ok, err := p.survivalForUnit(model, intervals, unit)
	if err != nil {
		return Projection{}, err
	}
	if !ok {
		return Projection{}, nil
	}

	steps := p.samplePoints
	for i := 0; i < steps; i++ {
		t := t0 + maxHorizonHours*float64(i)/float64(steps-1)
		riskAt := 1 - sf.Eval(t)
		if riskAt >= riskThreshold {
			hours := t - t0
			return Projection{
				HoursToThreshold:    &hours,
				RiskAtThreshold:     &riskAt,
				CurrentElapsedHours: &t0,
			}, nil
		}
	}

	finalRisk := 1 - sf.Eval(t0+maxHorizonHours)
	return Projection{
		HoursToThreshold:    &maxHorizonHours,
		RiskAtThreshold:     &finalRisk,
		CurrentElapsedHours: &t0,
	}, nil
}

// CurrentRisk evaluates the unit's failure risk at its current elapsed time,
// for display independent of any threshold. Nil when the unit is unknown.
func (p *Projector) CurrentRisk(model *survival.Model, intervals []models.Interval, unit string) (*float64, error) {
	sf, t0, ok, err := p.survivalForUnit(model, intervals, unit)
	if err != nil || !ok {
		return nil, err
	}
	riskNow := 1 - sf.Eval(t0)
	return &riskNow, nil
}

// survivalForUnit builds the feature vector from the unit's most recent
// interval and fetches its conditional survival curve. Missing features are
// zero-filled here rather than re-imputed with training medians; the only
// feature that can be missing is time-since-last-alarm on a first interval,
// where zero is the conservative prediction-time value.
func (p *Projector) survivalForUnit(model *survival.Model, intervals []models.Interval, unit string) (survival.StepFunction, float64, bool, error) {
	if model == nil {
		return survival.StepFunction{}, 0, false, fmt.Errorf("model is nil")
	}

	var latest *models.Interval
	for i := range intervals {
		if intervals[i].Unit == unit {
			latest = &intervals[i]
		}
	}
	if latest == nil {
		return survival.StepFunction{}, 0, false, nil
	}

	fv := survival.Features(*latest).ZeroFilled()
	sf, err := model.SurvivalFunction(fv)
	if err != nil {
		return survival.StepFunction{}, 0, false, fmt.Errorf("survival function for %s: %w", unit, err)
	}

	return sf, latest.CurrentTimeElapsed, true, nil
}
