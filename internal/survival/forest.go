// Package survival fits an ensemble of randomized survival trees over
// right-censored intervals and exposes per-feature-vector conditional
// survival curves.
package survival

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/coolstack/crac-risk/internal/models"
)

// ErrInsufficientData marks the expected "not enough history yet" condition.
// Callers must treat it as a normal state, not a crash: the interval table is
// still valid and should be surfaced without model results.
var ErrInsufficientData = errors.New("insufficient data to train survival model")

const (
	minSamples = 10
	minEvents  = 3
)

// Params configures ensemble training.
type Params struct {
	Trees int
	Seed  int64
}

// Trainer fits survival forests.
type Trainer struct {
	logger *slog.Logger
	params Params
}

// NewTrainer constructs a Trainer. Zero-value params fall back to the
// production configuration (250 trees, seed 42).
func NewTrainer(logger *slog.Logger, params Params) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if params.Trees <= 0 {
		params.Trees = 250
	}
	if params.Seed == 0 {
		params.Seed = 42
	}
	return &Trainer{logger: logger, params: params}
}

// Model is a fitted survival forest paired with the feature ordering it was
// trained with. It is immutable after Train returns and safe for concurrent
// readers.
type Model struct {
	trees    []*survivalTree
	grid     []float64
	features []string
}

// FeatureNames returns the ordered feature list the model expects.
func (m *Model) FeatureNames() []string {
	return append([]string(nil), m.features...)
}

// SurvivalFunction returns the conditional survival curve for a feature
// vector: the per-tree leaf curves averaged on the training event-time grid.
func (m *Model) SurvivalFunction(fv FeatureVector) (StepFunction, error) {
	if m == nil || len(m.trees) == 0 {
		return StepFunction{}, fmt.Errorf("model has no trees")
	}
	values := fv.values()
	for _, v := range values {
		if math.IsNaN(v) {
			return StepFunction{}, fmt.Errorf("feature vector contains NaN; fill missing values before predicting")
		}
	}

	probs := make([]float64, len(m.grid))
	for _, tree := range m.trees {
		leaf := tree.predict(values)
		for i, p := range leaf {
			probs[i] += p
		}
	}
	inv := 1 / float64(len(m.trees))
	for i := range probs {
		probs[i] *= inv
	}

	// Averaging KM curves preserves monotone non-increase; enforce it anyway
	// so downstream interpolation never sees an inversion from float error.
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[i-1] {
			probs[i] = probs[i-1]
		}
	}

	return StepFunction{Times: append([]float64(nil), m.grid...), Probs: probs}, nil
}

// riskScore is an ensemble mortality estimate used for concordance ranking:
// the accumulated failure probability over the training grid.
func (m *Model) riskScore(fv FeatureVector) (float64, error) {
	sf, err := m.SurvivalFunction(fv)
	if err != nil {
		return 0, err
	}
	score := 0.0
	for _, p := range sf.Probs {
		score += 1 - p
	}
	return score, nil
}

// Train fits the forest over all intervals. It returns ErrInsufficientData
// (wrapped with the specific precondition) when the history cannot support a
// model; any other failure mode is a bug, not an expected state.
func (t *Trainer) Train(intervals []models.Interval) (*Model, []string, error) {
	if len(intervals) == 0 {
		return nil, nil, fmt.Errorf("%w: no intervals", ErrInsufficientData)
	}

	n := len(intervals)
	X := make([][numFeatures]float64, n)
	times := make([]float64, n)
	events := make([]bool, n)
	nEvents := 0
	for i, iv := range intervals {
		X[i] = Features(iv).values()
		times[i] = iv.DurationHours
		events[i] = iv.Event
		if iv.Event {
			nEvents++
		}
	}

	if nEvents == 0 {
		return nil, nil, fmt.Errorf("%w: all %d intervals are censored (0 events)", ErrInsufficientData, n)
	}
	if nEvents < minEvents {
		return nil, nil, fmt.Errorf("%w: %d events, need at least %d", ErrInsufficientData, nEvents, minEvents)
	}
	if n < minSamples {
		return nil, nil, fmt.Errorf("%w: %d intervals, need at least %d", ErrInsufficientData, n, minSamples)
	}
	if stat.Variance(times, nil) == 0 {
		return nil, nil, fmt.Errorf("%w: no variability in interval durations", ErrInsufficientData)
	}

	imputeMedians(X)

	grid := eventTimeGrid(times, events)

	tp := treeParams{
		maxDepth:    12,
		minSplit:    6,
		minLeaf:     3,
		mtry:        mtry(),
		nCandidates: 32,
		minLogRank:  1e-9,
	}

	trees := make([]*survivalTree, t.params.Trees)
	var wg sync.WaitGroup
	workers := 8
	if workers > t.params.Trees {
		workers = t.params.Trees
	}
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				// Per-tree deterministic source keeps the forest reproducible
				// regardless of goroutine scheduling.
				rng := rand.New(rand.NewSource(t.params.Seed + int64(j)))
				idx := bootstrap(rng, n)
				trees[j] = growTree(X, times, events, idx, grid, rng, tp)
			}
		}()
	}
	for j := 0; j < t.params.Trees; j++ {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	model := &Model{
		trees:    trees,
		grid:     grid,
		features: append([]string(nil), FeatureNames...),
	}

	// Training-set concordance is a diagnostic only; a poor score warns but
	// never aborts.
	if c, ok := t.concordance(model, X, times, events); ok && c < 0.5 {
		t.logger.Warn("survival model concordance below random ranking",
			slog.Float64("concordance", c),
			slog.Int("events", nEvents),
			slog.Int("samples", n))
	}

	return model, model.FeatureNames(), nil
}

func mtry() int {
	m := int(math.Sqrt(float64(numFeatures)))
	if m < 1 {
		m = 1
	}
	return m
}

func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// eventTimeGrid returns the sorted distinct durations at which failures were
// observed; the ensemble survival function is defined on these knots.
func eventTimeGrid(times []float64, events []bool) []float64 {
	seen := make(map[float64]bool)
	var grid []float64
	for i, t := range times {
		if events[i] && !seen[t] {
			seen[t] = true
			grid = append(grid, t)
		}
	}
	sort.Float64s(grid)
	return grid
}

// imputeMedians replaces NaN cells with the per-feature median of the
// training set. The medians are recomputed on every training run and never
// persisted; prediction-time filling is the projector's concern.
func imputeMedians(X [][numFeatures]float64) {
	for f := 0; f < numFeatures; f++ {
		var present []float64
		for i := range X {
			if !math.IsNaN(X[i][f]) {
				present = append(present, X[i][f])
			}
		}
		median := 0.0
		if len(present) > 0 {
			sort.Float64s(present)
			median = stat.Quantile(0.5, stat.Empirical, present, nil)
		}
		for i := range X {
			if math.IsNaN(X[i][f]) {
				X[i][f] = median
			}
		}
	}
}

// concordance computes the training-set concordance index: the fraction of
// comparable interval pairs the model ranks correctly by risk.
func (t *Trainer) concordance(model *Model, X [][numFeatures]float64, times []float64, events []bool) (float64, bool) {
	scores := make([]float64, len(X))
	for i := range X {
		fv := FeatureVector{TotalAlarms: X[i][0], AlarmsLast24h: X[i][1], TimeSinceLastAlarmH: X[i][2]}
		s, err := model.riskScore(fv)
		if err != nil {
			return 0, false
		}
		scores[i] = s
	}

	comparable := 0.0
	concordant := 0.0
	for i := range times {
		if !events[i] {
			continue
		}
		for j := range times {
			if i == j || times[i] >= times[j] {
				continue
			}
			comparable++
			switch {
			case scores[i] > scores[j]:
				concordant++
			case scores[i] == scores[j]:
				concordant += 0.5
			}
		}
	}
	if comparable == 0 {
		return 0, false
	}
	return concordant / comparable, true
}
