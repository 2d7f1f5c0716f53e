// Package services holds the analysis service facade: it runs pipeline cycles
// on a schedule and publishes the latest snapshot to the API layer.
package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coolstack/crac-risk/internal/cache"
	"github.com/coolstack/crac-risk/internal/engine"
	"github.com/coolstack/crac-risk/internal/metrics"
	"github.com/coolstack/crac-risk/internal/utils"
)

const snapshotCacheKey = "crac-risk:snapshot:latest"

// AnalysisService owns the cycle schedule and the latest snapshot. Reads and
// cycle writes are decoupled by a read-write lock so the API never blocks on
// a running cycle.
type AnalysisService struct {
	logger       *slog.Logger
	pipeline     *engine.Pipeline
	cache        cache.Provider
	interval     time.Duration
	snapshotTTL  time.Duration
	horizonHours float64
	latencies    *utils.LatencyTracker

	mu       sync.RWMutex
	snapshot *engine.Snapshot
	lastErr  error
}

// NewAnalysisService constructs the service facade. cacheProvider may be nil;
// snapshot caching is then disabled.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline, cacheProvider cache.Provider, interval, snapshotTTL time.Duration, horizonHours float64) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &AnalysisService{
		logger:       logger,
		pipeline:     pipeline,
		cache:        cacheProvider,
		interval:     interval,
		snapshotTTL:  snapshotTTL,
		horizonHours: horizonHours,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// Start runs an immediate cycle and then re-runs on the configured interval
// until ctx is cancelled. A failed cycle keeps the previous snapshot.
func (s *AnalysisService) Start(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil {
		s.logger.Error("initial analysis cycle failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.Error("analysis cycle failed", slog.Any("error", err))
			}
		}
	}
}

// RunCycle executes one pipeline run and publishes the result.
func (s *AnalysisService) RunCycle(ctx context.Context) error {
	start := time.Now()
	snapshot, err := s.pipeline.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveCycle(duration, metrics.OutcomeError)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	if snapshot.Model == nil {
		metrics.ObserveCycle(duration, metrics.OutcomeSkipped)
		metrics.ObserveTraining(metrics.OutcomeSkipped)
	} else {
		metrics.ObserveCycle(duration, metrics.OutcomeSuccess)
		metrics.ObserveTraining(metrics.OutcomeSuccess)
	}
	metrics.SetUnitsAtRisk(s.countUnitsAtRisk(snapshot))

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("cycle latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.lastErr = nil
	s.mu.Unlock()

	s.storeSnapshot(ctx, snapshot)

	s.logger.Info("analysis cycle complete",
		slog.Int("units", len(snapshot.Units)),
		slog.Int("intervals", len(snapshot.Intervals)),
		slog.Bool("model_trained", snapshot.Model != nil),
		slog.Duration("took", duration),
	)
	return nil
}

// Snapshot returns the latest published snapshot, or nil before the first
// successful cycle.
func (s *AnalysisService) Snapshot() *engine.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// LastError returns the error of the most recent cycle, nil when it
// succeeded.
func (s *AnalysisService) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// LatencyP95 returns the current p95 cycle latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *AnalysisService) countUnitsAtRisk(snapshot *engine.Snapshot) int {
	atRisk := 0
	for _, proj := range snapshot.Projections {
		if proj.Reached(s.horizonHours) {
			atRisk++
		}
	}
	return atRisk
}

// storeSnapshot publishes a compact summary to the cache for sibling
// consumers. Failures are logged, never propagated.
func (s *AnalysisService) storeSnapshot(ctx context.Context, snapshot *engine.Snapshot) {
	summary := struct {
		GeneratedAt time.Time          `json:"generated_at"`
		Units       []string           `json:"units"`
		CurrentRisk map[string]float64 `json:"current_risk"`
		Trained     bool               `json:"trained"`
	}{
		GeneratedAt: snapshot.GeneratedAt,
		Units:       snapshot.Units,
		CurrentRisk: snapshot.CurrentRisk,
		Trained:     snapshot.Model != nil,
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		s.logger.Warn("marshal snapshot summary", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, snapshotCacheKey, payload, s.snapshotTTL); err != nil {
		s.logger.Warn("cache snapshot summary", slog.Any("error", err))
	}
}
