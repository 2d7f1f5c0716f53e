// Package engine orchestrates one analysis cycle: alarm classification,
// interval construction, survival-model training, and per-unit risk
// projection.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/coolstack/crac-risk/internal/config"
	"github.com/coolstack/crac-risk/internal/detect"
	"github.com/coolstack/crac-risk/internal/intervals"
	"github.com/coolstack/crac-risk/internal/metrics"
	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/risk"
	"github.com/coolstack/crac-risk/internal/survival"
	"github.com/coolstack/crac-risk/internal/utils"
)

// AlarmSource supplies the raw alarm history for all monitored units.
type AlarmSource interface {
	FetchAlarms(ctx context.Context, since time.Time) ([]models.AlarmRecord, error)
}

// MaintenanceSource supplies the latest maintenance visit per serial.
type MaintenanceSource interface {
	LastMaintenance(ctx context.Context) (map[string]models.MaintenanceRecord, error)
}

// Snapshot is the immutable result of one analysis cycle. Interval data is
// always populated; model-dependent fields are empty when training was
// skipped for lack of history (TrainingNote explains why).
type Snapshot struct {
	GeneratedAt   time.Time
	ReferenceTime time.Time
	Units         []string
	Intervals     []models.Interval
	FeatureNames  []string
	Model         *survival.Model
	TrainingNote  string
	Projections   map[string]risk.Projection
	CurrentRisk   map[string]float64
	FailureModes  map[string][]string
	Maintenance   map[string]models.MaintenanceRecord
	Serials       map[string]string
}

// Pipeline runs analysis cycles. It holds no state between runs; every cycle
// rebuilds intervals and the model from the full available history.
type Pipeline struct {
	logger      *slog.Logger
	source      AlarmSource
	maintenance MaintenanceSource
	trainer     *survival.Trainer
	projector   *risk.Projector
	cfg         config.AnalysisConfig
	clock       func() time.Time
}

// NewPipeline constructs an analysis pipeline. maintenance may be nil when no
// maintenance API is configured.
func NewPipeline(
	logger *slog.Logger,
	source AlarmSource,
	maintenance MaintenanceSource,
	trainer *survival.Trainer,
	projector *risk.Projector,
	cfg config.AnalysisConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if trainer == nil {
		trainer = survival.NewTrainer(logger, survival.Params{Trees: cfg.Trees, Seed: cfg.Seed})
	}
	if projector == nil {
		projector = risk.NewProjector(logger, cfg.SamplePoints)
	}
	return &Pipeline{
		logger:      logger,
		source:      source,
		maintenance: maintenance,
		trainer:     trainer,
		projector:   projector,
		cfg:         cfg,
		clock:       time.Now,
	}
}

// WithClock overrides the reference-instant source, for tests.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Run executes one full cycle. The reference instant is captured once and
// reused for every unit so cross-unit comparisons stay consistent. Trainer
// insufficiency is recorded on the snapshot, never returned as an error;
// per-unit projection failures are logged and skipped.
func (p *Pipeline) Run(ctx context.Context) (*Snapshot, error) {
	if p.source == nil {
		return nil, utils.NewAppError("engine.run", "alarm source not configured", nil)
	}

	now := p.clock().UTC()
	since := now.AddDate(0, 0, -p.cfg.LookbackDays)

	records, err := p.source.FetchAlarms(ctx, since)
	if err != nil {
		return nil, utils.NewAppError("engine.run", "fetch alarms", err)
	}

	records, dropped := sanitize(records)
	if dropped > 0 {
		p.logger.Warn("dropped malformed alarm rows", slog.Int("count", dropped))
	}
	if len(records) == 0 {
		return nil, utils.NewAppError("engine.run", "no valid alarm rows in lookback window", nil)
	}

	p.backfillSerials(records)

	flags := detect.Failures(records, p.cfg.SeverityThreshold)
	ivs := intervals.Build(records, flags, p.cfg.SeverityThreshold, now)

	snapshot := &Snapshot{
		GeneratedAt:   now,
		ReferenceTime: now,
		Intervals:     ivs,
		FeatureNames:  append([]string(nil), survival.FeatureNames...),
		Projections:   make(map[string]risk.Projection),
		CurrentRisk:   make(map[string]float64),
		FailureModes:  detect.FailureModes(records),
		Serials:       serialIndex(records),
	}

	units := make(map[string]bool)
	for i := range ivs {
		units[ivs[i].Unit] = true
	}
	for unit := range units {
		snapshot.Units = append(snapshot.Units, unit)
	}
	sort.Strings(snapshot.Units)

	model, featureNames, err := p.trainer.Train(ivs)
	if err != nil {
		if !errors.Is(err, survival.ErrInsufficientData) {
			return nil, utils.NewAppError("engine.run", "train survival model", err)
		}
		snapshot.TrainingNote = err.Error()
		p.logger.Info("survival model skipped", slog.String("reason", err.Error()))
	} else {
		snapshot.Model = model
		snapshot.FeatureNames = featureNames
		p.project(snapshot)
	}

	p.mergeMaintenance(ctx, snapshot)

	return snapshot, nil
}

// project computes the risk triple and current risk per unit. A failure for
// one unit never aborts the pass for the others.
func (p *Pipeline) project(snapshot *Snapshot) {
	for _, unit := range snapshot.Units {
		proj, err := p.projector.TimeToThreshold(
			snapshot.Model, snapshot.Intervals, unit,
			p.cfg.RiskThreshold, p.cfg.HorizonHours,
		)
		if err != nil {
			metrics.ObserveProjectionFailure()
			p.logger.Warn("risk projection failed",
				slog.String("unit", unit), slog.Any("error", err))
			snapshot.Projections[unit] = risk.Projection{}
			continue
		}
		snapshot.Projections[unit] = proj

		current, err := p.projector.CurrentRisk(snapshot.Model, snapshot.Intervals, unit)
		if err != nil {
			p.logger.Warn("current risk evaluation failed",
				slog.String("unit", unit), slog.Any("error", err))
			continue
		}
		if current != nil {
			snapshot.CurrentRisk[unit] = *current
		}
	}
}

func (p *Pipeline) mergeMaintenance(ctx context.Context, snapshot *Snapshot) {
	if p.maintenance == nil {
		return
	}
	records, err := p.maintenance.LastMaintenance(ctx)
	if err != nil {
		p.logger.Warn("maintenance lookup failed", slog.Any("error", err))
		return
	}
	snapshot.Maintenance = records
}

// backfillSerials fills missing serial numbers from the configured
// unit-to-serial mapping.
func (p *Pipeline) backfillSerials(records []models.AlarmRecord) {
	if len(p.cfg.SerialMap) == 0 {
		return
	}
	for i := range records {
		if records[i].Serial == "" {
			records[i].Serial = p.cfg.SerialMap[records[i].Unit]
		}
	}
}

// sanitize drops rows missing the required logical fields (unit, timestamp).
func sanitize(records []models.AlarmRecord) ([]models.AlarmRecord, int) {
	valid := records[:0]
	dropped := 0
	for _, rec := range records {
		if rec.Unit == "" || rec.Timestamp.IsZero() {
			dropped++
			continue
		}
		valid = append(valid, rec)
	}
	return valid, dropped
}

func serialIndex(records []models.AlarmRecord) map[string]string {
	serials := make(map[string]string)
	for i := range records {
		if records[i].Serial != "" {
			serials[records[i].Unit] = records[i].Serial
		}
	}
	return serials
}
