package facematch

import (
	"errors"
	"math"
	"testing"
)

func sampleFeature(offset float64) FeatureVector {
	return FeatureVector{
		"leftEye":   {0.1 + offset, 0.2, 0.3, 0.4, 0.5, 0.6},
		"leftIris":  {0.15, 0.25 + offset, 0.35},
		"lips":      {0.5, 0.6, 0.7, 0.55, 0.65, 0.75 + offset},
		"rightEye":  {0.7, 0.2, 0.3, 0.8, 0.5, 0.6},
		"rightIris": {0.75, 0.25, 0.35},
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        FeatureVector
		b        FeatureVector
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        sampleFeature(0),
			b:        sampleFeature(0),
			expected: 0,
		},
		{
			name:     "single group 3-4-5 triangle",
			a:        FeatureVector{"lips": {0, 0, 0}},
			b:        FeatureVector{"lips": {3, 4, 0}},
			expected: 5,
		},
		{
			name:     "mean over groups",
			a:        FeatureVector{"lips": {0, 0, 0}, "leftEye": {0, 0, 0}},
			b:        FeatureVector{"lips": {3, 4, 0}, "leftEye": {0, 0, 1}},
			expected: 3, // (5 + 1) / 2
		},
		{
			name:     "aggregate norm over the whole group, not per point",
			a:        FeatureVector{"lips": {0, 0, 0, 0, 0, 0}},
			b:        FeatureVector{"lips": {1, 0, 0, 1, 0, 0}},
			expected: math.Sqrt(2),
		},
		{
			name:     "offset spread across three groups",
			a:        sampleFeature(0),
			b:        sampleFeature(0.5),
			expected: 1.5 / 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Distance() error = %v", err)
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Distance() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := sampleFeature(0)
	b := sampleFeature(0.03)
	ab, err := Distance(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Distance(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("Distance(a,b) = %v, Distance(b,a) = %v", ab, ba)
	}
}

func TestDistance_ShapeMismatch(t *testing.T) {
	tests := []struct {
		name string
		a    FeatureVector
		b    FeatureVector
	}{
		{
			name: "different group count",
			a:    FeatureVector{"lips": {0, 0, 0}},
			b:    FeatureVector{"lips": {0, 0, 0}, "leftEye": {0, 0, 0}},
		},
		{
			name: "different group names",
			a:    FeatureVector{"lips": {0, 0, 0}},
			b:    FeatureVector{"leftEye": {0, 0, 0}},
		},
		{
			name: "different group lengths",
			a:    FeatureVector{"lips": {0, 0, 0}},
			b:    FeatureVector{"lips": {0, 0, 0, 1, 1, 1}},
		},
		{
			name: "empty vectors",
			a:    FeatureVector{},
			b:    FeatureVector{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Distance(tt.a, tt.b)
			if !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("Distance() error = %v, want ErrShapeMismatch", err)
			}
		})
	}
}

func TestFindBest(t *testing.T) {
	probe := sampleFeature(0)

	t.Run("identical candidate wins", func(t *testing.T) {
		candidates := []FeatureVector{
			sampleFeature(0.9),
			sampleFeature(0.5),
			sampleFeature(0),
			sampleFeature(0.7),
			sampleFeature(0.4),
		}
		best, ok, err := FindBest(probe, candidates, DefaultThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected a match")
		}
		if best.Index != 2 || best.Distance != 0 {
			t.Errorf("FindBest() = %+v, want {2 0}", best)
		}
		if best.Confidence() != 1 {
			t.Errorf("Confidence() = %v, want 1", best.Confidence())
		}
	})

	t.Run("nothing within threshold", func(t *testing.T) {
		candidates := []FeatureVector{sampleFeature(0.9), sampleFeature(0.5)}
		_, ok, err := FindBest(probe, candidates, DefaultThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expected no match")
		}
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		atLimit := sampleFeature(0.1)
		threshold, err := Distance(probe, atLimit)
		if err != nil {
			t.Fatal(err)
		}
		above := sampleFeature(0.1 + 1e-9)
		candidates := []FeatureVector{sampleFeature(0.3), above, atLimit}

		best, ok, err := FindBest(probe, candidates, threshold)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || best.Index != 2 || best.Distance != threshold {
			t.Errorf("FindBest() = %+v, %v, want index 2 at distance %v", best, ok, threshold)
		}

		_, ok, err = FindBest(probe, candidates[:2], threshold)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("expected candidates just above the threshold to be rejected")
		}
	})

	t.Run("tie resolves to earliest index", func(t *testing.T) {
		candidates := []FeatureVector{
			sampleFeature(0.3),
			sampleFeature(0.01),
			sampleFeature(0.01),
		}
		best, ok, err := FindBest(probe, candidates, DefaultThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || best.Index != 1 {
			t.Errorf("FindBest() = %+v, %v, want index 1", best, ok)
		}
	})

	t.Run("empty candidates", func(t *testing.T) {
		_, ok, err := FindBest(probe, nil, DefaultThreshold)
		if err != nil || ok {
			t.Errorf("FindBest(nil) = %v, %v, want no match and no error", ok, err)
		}
	})

	t.Run("shape mismatch propagates", func(t *testing.T) {
		candidates := []FeatureVector{sampleFeature(0), {"lips": {0, 0, 0}}}
		_, _, err := FindBest(probe, candidates, DefaultThreshold)
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("FindBest() error = %v, want ErrShapeMismatch", err)
		}
	})
}
