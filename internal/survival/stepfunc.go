package survival

// StepFunction is a conditional survival curve: survival probability at each
// knot of the training event-time grid. Probs is monotonically non-increasing
// and bounded to [0,1].
type StepFunction struct {
	Times []float64
	Probs []float64
}

// Eval returns the survival probability at elapsed time t by linear
// interpolation between knots. Left of the first knot the curve is clamped to
// 1.0 (no failure observed yet); right of the last knot it holds the final
// known survival value.
func (s StepFunction) Eval(t float64) float64 {
	if len(s.Times) == 0 {
		return 1.0
	}
	if t < s.Times[0] {
		return 1.0
	}
	last := len(s.Times) - 1
	if t >= s.Times[last] {
		return s.Probs[last]
	}

	// Binary search for the knot pair bracketing t.
	lo, hi := 0, last
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if s.Times[mid] <= t {
			lo = mid
		} else {
			hi = mid
		}
	}

	x0, x1 := s.Times[lo], s.Times[hi]
	y0, y1 := s.Probs[lo], s.Probs[hi]
	if x1 == x0 {
		return y0
	}
	frac := (t - x0) / (x1 - x0)
	return y0 + frac*(y1-y0)
}
