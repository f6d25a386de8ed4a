package landmark

import (
	"errors"
	"math"
)

// Group names reported by the landmark detector.
const (
	FaceOval     = "faceOval"
	LeftEye      = "leftEye"
	LeftEyebrow  = "leftEyebrow"
	LeftIris     = "leftIris"
	Lips         = "lips"
	RightEye     = "rightEye"
	RightEyebrow = "rightEyebrow"
	RightIris    = "rightIris"
)

// Groups lists every named group a Landmark may carry.
var Groups = []string{FaceOval, LeftEye, LeftEyebrow, LeftIris, Lips, RightEye, RightEyebrow, RightIris}

// UnitScale is the target extent of the normalized face box on every axis.
const UnitScale = 1.0

// ErrAlreadyNormalized is returned when Normalize is called twice on the same Landmark.
var ErrAlreadyNormalized = errors.New("landmark already normalized")

// BoundingBox is the detected face box in image pixels.
type BoundingBox struct {
	XMin   float64 `json:"xMin"`
	YMin   float64 `json:"yMin"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ImageShape describes the source image.
type ImageShape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Landmark is one detected face.
type Landmark struct {
	Box   BoundingBox
	Shape ImageShape

	keypoints  []*Point
	groups     map[string]*PointSet
	normalized bool
}

// New builds a Landmark from raw keypoints. Points whose Name is a known group are
// collected into that group in the order given; all points count towards the depth range.
func New(box BoundingBox, shape ImageShape, keypoints []Point) *Landmark {
	known := make(map[string]bool, len(Groups))
	for _, g := range Groups {
		known[g] = true
	}

	l := &Landmark{
		Box:       box,
		Shape:     shape,
		keypoints: make([]*Point, len(keypoints)),
		groups:    make(map[string]*PointSet),
	}
	for i := range keypoints {
		p := keypoints[i]
		l.keypoints[i] = &p
		if !known[p.Name] {
			continue
		}
		set, ok := l.groups[p.Name]
		if !ok {
			set = &PointSet{Name: p.Name}
			l.groups[p.Name] = set
		}
		set.Points = append(set.Points, &p)
	}
	return l
}

// Group returns the named point set, or nil if the detector did not report it.
func (l *Landmark) Group(name string) *PointSet {
	return l.groups[name]
}

// Keypoints returns every keypoint, grouped or not.
func (l *Landmark) Keypoints() []*Point {
	return l.keypoints
}

// Normalized reports whether Normalize has run.
func (l *Landmark) Normalized() bool {
	return l.normalized
}

// DepthRange returns the min and max z over all keypoints.
func (l *Landmark) DepthRange() (zMin, zMax float64) {
	if len(l.keypoints) == 0 {
		return 0, 0
	}
	zMin, zMax = math.Inf(1), math.Inf(-1)
	for _, p := range l.keypoints {
		zMin = min(zMin, p.Z)
		zMax = max(zMax, p.Z)
	}
	return zMin, zMax
}

// Transform computes the box-relative transform for this landmark.
// A zero extent on any axis gets a neutral scale of 1 so no NaN or Inf escapes.
func (l *Landmark) Transform(unitScale float64) Transform {
	zMin, zMax := l.DepthRange()
	return Transform{
		XMin:   l.Box.XMin,
		YMin:   l.Box.YMin,
		ZMin:   zMin,
		XScale: safeScale(unitScale, l.Box.Width),
		YScale: safeScale(unitScale, l.Box.Height),
		ZScale: safeScale(unitScale, math.Abs(zMax-zMin)),
	}
}

// Normalize rewrites every keypoint into box-relative, unit-scaled coordinates.
// It may run only once per Landmark.
func (l *Landmark) Normalize(unitScale float64) error {
	if l.normalized {
		return ErrAlreadyNormalized
	}
	t := l.Transform(unitScale)
	for _, p := range l.keypoints {
		p.Apply(t)
	}
	l.normalized = true
	return nil
}

func safeScale(unit, extent float64) float64 {
	if extent == 0 || math.IsNaN(extent) || math.IsInf(extent, 0) {
		return 1
	}
	return unit / extent
}
