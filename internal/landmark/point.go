// Package landmark holds detected face geometry and the box-relative normalization
// applied before feature extraction.
package landmark

import "math"

// Coord is a plain 3-D coordinate.
type Coord struct {
	X, Y, Z float64
}

// Point is one detected keypoint. Name is the group it belongs to, empty if none.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Name string  `json:"name,omitempty"`

	// Original keeps the pre-normalization coordinates. Diagnostics only.
	Original *Coord `json:"-"`
}

// Transform is an affine per-axis rewrite: v' = (v - Min) * Scale.
type Transform struct {
	XMin, YMin, ZMin       float64
	XScale, YScale, ZScale float64
}

// Identity returns the transform that leaves a point unchanged.
func Identity() Transform {
	return Transform{XScale: 1, YScale: 1, ZScale: 1}
}

// Apply rewrites the point in place. The first call records the original coordinates.
func (p *Point) Apply(t Transform) {
	if p.Original == nil {
		p.Original = &Coord{X: p.X, Y: p.Y, Z: p.Z}
	}
	p.X = (p.X - t.XMin) * t.XScale
	p.Y = (p.Y - t.YMin) * t.YScale
	p.Z = (p.Z - t.ZMin) * t.ZScale
}

// PointSet is an ordered run of points sharing a group name.
type PointSet struct {
	Name   string
	Points []*Point
}

// Len returns the number of points.
func (s *PointSet) Len() int {
	return len(s.Points)
}

// Mean returns the per-axis mean. An empty set yields the zero coordinate.
func (s *PointSet) Mean() Coord {
	if len(s.Points) == 0 {
		return Coord{}
	}
	var c Coord
	for _, p := range s.Points {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	n := float64(len(s.Points))
	return Coord{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// Min returns the per-axis minimum.
func (s *PointSet) Min() Coord {
	if len(s.Points) == 0 {
		return Coord{}
	}
	c := Coord{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	for _, p := range s.Points {
		c.X = min(c.X, p.X)
		c.Y = min(c.Y, p.Y)
		c.Z = min(c.Z, p.Z)
	}
	return c
}

// Max returns the per-axis maximum.
func (s *PointSet) Max() Coord {
	if len(s.Points) == 0 {
		return Coord{}
	}
	c := Coord{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range s.Points {
		c.X = max(c.X, p.X)
		c.Y = max(c.Y, p.Y)
		c.Z = max(c.Z, p.Z)
	}
	return c
}

// Flatten returns x,y,z interleaved in point order.
func (s *PointSet) Flatten() []float64 {
	out := make([]float64, 0, 3*len(s.Points))
	for _, p := range s.Points {
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}
