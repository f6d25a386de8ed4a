package facematch

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is the largest distance still treated as the same face.
// It is a heuristic bound, not a calibrated probability.
const DefaultThreshold = 0.075

// ErrShapeMismatch is returned when two feature vectors do not have the same groups
// with the same lengths.
var ErrShapeMismatch = errors.New("feature shape mismatch")

// Distance returns the mean over groups of the Euclidean distance between the
// flattened group coordinates of a and b.
func Distance(a, b FeatureVector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d groups vs %d groups", ErrShapeMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: no feature groups", ErrShapeMismatch)
	}

	var sum float64
	for _, name := range a.Groups() {
		av := a[name]
		bv, ok := b[name]
		if !ok {
			return 0, fmt.Errorf("%w: group %q missing", ErrShapeMismatch, name)
		}
		if len(av) != len(bv) {
			return 0, fmt.Errorf("%w: group %q has length %d vs %d", ErrShapeMismatch, name, len(av), len(bv))
		}
		var sq float64
		for i := range av {
			d := av[i] - bv[i]
			sq += d * d
		}
		sum += math.Sqrt(sq)
	}
	return sum / float64(len(a)), nil
}

// Match is the position and distance of the best candidate.
type Match struct {
	Index    int
	Distance float64
}

// Confidence converts the distance to a score where higher is better.
func (m Match) Confidence() float64 {
	return 1 - m.Distance
}

// FindBest returns the closest candidate within threshold. On equal distances the
// earliest candidate wins. ok is false when nothing qualifies.
func FindBest(probe FeatureVector, candidates []FeatureVector, threshold float64) (best Match, ok bool, err error) {
	for i, c := range candidates {
		d, err := Distance(probe, c)
		if err != nil {
			return Match{}, false, fmt.Errorf("candidate %d: %w", i, err)
		}
		if d > threshold {
			continue
		}
		if !ok || d < best.Distance {
			best = Match{Index: i, Distance: d}
			ok = true
		}
	}
	return best, ok, nil
}
