package facematch

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/kozaktomas/face-scan/internal/landmark"
)

// FeatureGroups are the landmark groups used for matching, in build order.
var FeatureGroups = []string{
	landmark.LeftEye,
	landmark.LeftIris,
	landmark.Lips,
	landmark.RightEye,
	landmark.RightIris,
}

// FeatureVector maps a feature group to its flattened x,y,z coordinates.
// It is also the wire and storage form of a face template.
type FeatureVector map[string][]float64

// FromMap validates and copies a wire-form feature.
func FromMap(m map[string][]float64) (FeatureVector, error) {
	fv := make(FeatureVector, len(m))
	for name, values := range m {
		if len(values)%3 != 0 {
			return nil, fmt.Errorf("group %q: length %d is not a multiple of 3", name, len(values))
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("group %q: value %d is not finite", name, i)
			}
		}
		fv[name] = slices.Clone(values)
	}
	return fv, nil
}

// Map returns a copy in wire form.
func (f FeatureVector) Map() map[string][]float64 {
	m := make(map[string][]float64, len(f))
	for name, values := range f {
		m[name] = slices.Clone(values)
	}
	return m
}

// Groups returns the group names in canonical order: known feature groups first,
// then anything else sorted by name.
func (f FeatureVector) Groups() []string {
	names := make([]string, 0, len(f))
	for _, g := range FeatureGroups {
		if _, ok := f[g]; ok {
			names = append(names, g)
		}
	}
	var extra []string
	for name := range f {
		if !slices.Contains(FeatureGroups, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

// Flatten concatenates all groups in canonical order.
func (f FeatureVector) Flatten() []float64 {
	var out []float64
	for _, g := range f.Groups() {
		out = append(out, f[g]...)
	}
	return out
}

// Flatten32 is Flatten narrowed to float32 for vector indexes.
func (f FeatureVector) Flatten32() []float32 {
	flat := f.Flatten()
	out := make([]float32, len(flat))
	for i, v := range flat {
		out[i] = float32(v)
	}
	return out
}

// Shape returns a stable key describing group names and lengths.
// Two vectors are comparable iff their shapes are equal.
func (f FeatureVector) Shape() string {
	var s string
	for _, g := range f.Groups() {
		s += fmt.Sprintf("%s:%d;", g, len(f[g]))
	}
	return s
}

// Build extracts the feature-bearing groups of a normalized landmark.
// Groups the detector did not report are left out.
func Build(l *landmark.Landmark) FeatureVector {
	fv := make(FeatureVector, len(FeatureGroups))
	for _, g := range FeatureGroups {
		set := l.Group(g)
		if set == nil || set.Len() == 0 {
			continue
		}
		fv[g] = set.Flatten()
	}
	return fv
}

// Face pairs a landmark with its lazily built feature vector.
type Face struct {
	Landmark *landmark.Landmark

	once    sync.Once
	feature FeatureVector
}

// NewFace normalizes the landmark (if not done yet) and wraps it.
func NewFace(l *landmark.Landmark, unitScale float64) *Face {
	if !l.Normalized() {
		// Normalize only fails when already normalized, which was just checked.
		_ = l.Normalize(unitScale)
	}
	return &Face{Landmark: l}
}

// Feature builds the feature vector on first access and caches it.
func (f *Face) Feature() FeatureVector {
	f.once.Do(func() {
		f.feature = Build(f.Landmark)
	})
	return f.feature
}
