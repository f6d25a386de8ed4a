package database

import (
	"context"

	"github.com/kozaktomas/face-scan/internal/facematch"
)

// TemplateReader provides read-only access to persisted templates
type TemplateReader interface {
	// GetTemplates retrieves all templates of a set ordered by index
	GetTemplates(ctx context.Context, set string) ([]StoredTemplate, error)
	// GetTemplate retrieves one template, returns nil if not found
	GetTemplate(ctx context.Context, set string, index int) (*StoredTemplate, error)
	// ListSets returns every set with its template counts, ordered by name
	ListSets(ctx context.Context) ([]SetSummary, error)
	// FindNearest returns up to limit templates of the set closest to the feature
	FindNearest(ctx context.Context, set string, feature facematch.FeatureVector, limit int) ([]Neighbor, error)
}

// TemplateWriter provides write access to persisted templates
type TemplateWriter interface {
	// SaveTemplate inserts or replaces the template at (Set, Index)
	SaveTemplate(ctx context.Context, t StoredTemplate) error
	// DeleteSet removes every template of a set
	DeleteSet(ctx context.Context, set string) error
}

// TemplateRepository combines read and write access
type TemplateRepository interface {
	TemplateReader
	TemplateWriter
}
