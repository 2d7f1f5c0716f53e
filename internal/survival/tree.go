package survival

import (
	"math"
	"math/rand"
	"sort"
)

// treeParams bound individual tree growth.
type treeParams struct {
	maxDepth    int
	minSplit    int
	minLeaf     int
	mtry        int
	nCandidates int // cap on thresholds examined per feature
	minLogRank  float64
}

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	leafProbs []float64 // survival on the shared grid; nil for internal nodes
}

type survivalTree struct {
	root *treeNode
}

// predict walks the tree to a leaf for the given raw feature values.
func (t *survivalTree) predict(values [numFeatures]float64) []float64 {
	node := t.root
	for node.leafProbs == nil {
		if values[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.leafProbs
}

// growTree builds one randomized survival tree over the bootstrap sample idx.
// X rows are fully imputed before trees are grown, so no NaN handling is
// needed here.
func growTree(X [][numFeatures]float64, times []float64, events []bool, idx []int, grid []float64, rng *rand.Rand, p treeParams) *survivalTree {
	return &survivalTree{root: growNode(X, times, events, idx, grid, rng, p, 0)}
}

func growNode(X [][numFeatures]float64, times []float64, events []bool, idx []int, grid []float64, rng *rand.Rand, p treeParams, depth int) *treeNode {
	if depth >= p.maxDepth || len(idx) < p.minSplit || isPure(times, events, idx) {
		return leafNode(times, events, idx, grid)
	}

	feature, threshold, ok := bestSplit(X, times, events, idx, rng, p)
	if !ok {
		return leafNode(times, events, idx, grid)
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < p.minLeaf || len(right) < p.minLeaf {
		return leafNode(times, events, idx, grid)
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      growNode(X, times, events, left, grid, rng, p, depth+1),
		right:     growNode(X, times, events, right, grid, rng, p, depth+1),
	}
}

func leafNode(times []float64, events []bool, idx []int, grid []float64) *treeNode {
	return &treeNode{leafProbs: kaplanMeier(times, events, idx, grid)}
}

// isPure reports whether the node cannot be improved by splitting: no events,
// or no spread in the observed times.
func isPure(times []float64, events []bool, idx []int) bool {
	nEvents := 0
	first := times[idx[0]]
	spread := false
	for _, i := range idx {
		if events[i] {
			nEvents++
		}
		if times[i] != first {
			spread = true
		}
	}
	return nEvents == 0 || !spread
}

// bestSplit searches a random subset of features for the threshold maximizing
// the log-rank statistic between the two resulting groups.
func bestSplit(X [][numFeatures]float64, times []float64, events []bool, idx []int, rng *rand.Rand, p treeParams) (int, float64, bool) {
	bestStat := p.minLogRank
	bestFeature := -1
	bestThreshold := 0.0

	for _, feature := range sampleFeatures(rng, p.mtry) {
		values := make([]float64, 0, len(idx))
		for _, i := range idx {
			values = append(values, X[i][feature])
		}
		for _, threshold := range candidateThresholds(values, rng, p.nCandidates) {
			var left, right []int
			for _, i := range idx {
				if X[i][feature] <= threshold {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) < p.minLeaf || len(right) < p.minLeaf {
				continue
			}
			stat := logRank(times, events, left, right)
			if stat > bestStat {
				bestStat = stat
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

func sampleFeatures(rng *rand.Rand, mtry int) []int {
	if mtry >= numFeatures {
		return []int{0, 1, 2}
	}
	perm := rng.Perm(numFeatures)
	return perm[:mtry]
}

// candidateThresholds returns midpoints between consecutive distinct sorted
// values, subsampled when there are more than limit candidates.
func candidateThresholds(values []float64, rng *rand.Rand, limit int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var mids []float64
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			mids = append(mids, (sorted[i]+sorted[i-1])/2)
		}
	}
	if limit > 0 && len(mids) > limit {
		rng.Shuffle(len(mids), func(i, j int) { mids[i], mids[j] = mids[j], mids[i] })
		mids = mids[:limit]
		sort.Float64s(mids)
	}
	return mids
}

// logRank computes the two-sample log-rank statistic (chi-squared form) for
// the split groups. Higher means better separation of survival experience.
func logRank(times []float64, events []bool, groupA, groupB []int) float64 {
	type sample struct {
		time  float64
		event bool
		inA   bool
	}

	samples := make([]sample, 0, len(groupA)+len(groupB))
	for _, i := range groupA {
		samples = append(samples, sample{time: times[i], event: events[i], inA: true})
	}
	for _, i := range groupB {
		samples = append(samples, sample{time: times[i], event: events[i]})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].time < samples[j].time })

	nA := len(groupA)
	nTotal := len(samples)

	observed := 0.0
	expected := 0.0
	variance := 0.0

	i := 0
	atRiskA := nA
	atRisk := nTotal
	for i < len(samples) {
		t := samples[i].time
		dTotal := 0
		dA := 0
		removedA := 0
		removed := 0
		for i < len(samples) && samples[i].time == t {
			if samples[i].event {
				dTotal++
				if samples[i].inA {
					dA++
				}
			}
			if samples[i].inA {
				removedA++
			}
			removed++
			i++
		}

		if dTotal > 0 && atRisk > 1 {
			fA := float64(atRiskA) / float64(atRisk)
			observed += float64(dA)
			expected += float64(dTotal) * fA
			variance += float64(dTotal) * fA * (1 - fA) * float64(atRisk-dTotal) / float64(atRisk-1)
		}

		atRiskA -= removedA
		atRisk -= removed
	}

	if variance <= 0 {
		return 0
	}
	diff := observed - expected
	return diff * diff / variance
}

// kaplanMeier estimates the survival curve of the node's samples and
// evaluates it at each grid time (right-continuous step lookup).
func kaplanMeier(times []float64, events []bool, idx []int, grid []float64) []float64 {
	type sample struct {
		time  float64
		event bool
	}
	samples := make([]sample, 0, len(idx))
	for _, i := range idx {
		samples = append(samples, sample{time: times[i], event: events[i]})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].time < samples[j].time })

	// Survival steps at the node's own event times.
	var stepTimes []float64
	var stepProbs []float64
	surv := 1.0
	atRisk := len(samples)
	i := 0
	for i < len(samples) {
		t := samples[i].time
		d := 0
		removed := 0
		for i < len(samples) && samples[i].time == t {
			if samples[i].event {
				d++
			}
			removed++
			i++
		}
		if d > 0 && atRisk > 0 {
			surv *= 1 - float64(d)/float64(atRisk)
			if surv < 0 {
				surv = 0
			}
			stepTimes = append(stepTimes, t)
			stepProbs = append(stepProbs, surv)
		}
		atRisk -= removed
	}

	probs := make([]float64, len(grid))
	j := 0
	current := 1.0
	for gi, gt := range grid {
		for j < len(stepTimes) && stepTimes[j] <= gt {
			current = stepProbs[j]
			j++
		}
		probs[gi] = current
	}
	// Guard against accumulated float error.
	for gi := range probs {
		probs[gi] = math.Min(1, math.Max(0, probs[gi]))
	}
	return probs
}
