package database

import (
	"time"

	"github.com/kozaktomas/face-scan/internal/facematch"
)

// StoredTemplate is the persisted cache state of one candidate item.
// Feature is nil when NoFace is set.
type StoredTemplate struct {
	ID        int64
	Set       string
	Index     int
	Feature   facematch.FeatureVector
	NoFace    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetSummary describes a candidate set in the template store.
type SetSummary struct {
	Name      string
	Templates int // rows with a feature
	NoFace    int // rows marked as no face
}

// Neighbor is one result of a nearest-template search.
type Neighbor struct {
	Index    int
	Distance float64
}
