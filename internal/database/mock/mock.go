// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
)

type key struct {
	set   string
	index int
}

// MockTemplateRepository is an in-memory database.TemplateRepository.
type MockTemplateRepository struct {
	mu        sync.RWMutex
	templates map[key]database.StoredTemplate
	nextID    int64
	saves     int

	// Error injection
	GetError       error
	ListError      error
	SaveError      error
	DeleteError    error
	FindError      error
	SaveErrorAfter int // fail saves once this many succeeded; 0 disables
}

var _ database.TemplateRepository = (*MockTemplateRepository)(nil)

// NewMockTemplateRepository creates an empty mock repository.
func NewMockTemplateRepository() *MockTemplateRepository {
	return &MockTemplateRepository{templates: make(map[key]database.StoredTemplate)}
}

// AddTemplate seeds a template without going through SaveTemplate.
func (m *MockTemplateRepository) AddTemplate(t database.StoredTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(t)
}

func (m *MockTemplateRepository) put(t database.StoredTemplate) {
	k := key{t.Set, t.Index}
	now := time.Now()
	if prev, ok := m.templates[k]; ok {
		t.ID = prev.ID
		t.CreatedAt = prev.CreatedAt
	} else {
		m.nextID++
		t.ID = m.nextID
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.templates[k] = t
}

// Saves returns how many SaveTemplate calls succeeded.
func (m *MockTemplateRepository) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// SaveTemplate inserts or replaces a template.
func (m *MockTemplateRepository) SaveTemplate(ctx context.Context, t database.StoredTemplate) error {
	if m.SaveError != nil && (m.SaveErrorAfter == 0 || m.Saves() >= m.SaveErrorAfter) {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(t)
	m.saves++
	return nil
}

// DeleteSet removes all templates of a set.
func (m *MockTemplateRepository) DeleteSet(ctx context.Context, set string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.templates {
		if k.set == set {
			delete(m.templates, k)
		}
	}
	return nil
}

// GetTemplates returns the templates of a set ordered by index.
func (m *MockTemplateRepository) GetTemplates(ctx context.Context, set string) ([]database.StoredTemplate, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.StoredTemplate
	for k, t := range m.templates {
		if k.set == set {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// GetTemplate returns one template or nil.
func (m *MockTemplateRepository) GetTemplate(ctx context.Context, set string, index int) (*database.StoredTemplate, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[key{set, index}]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListSets summarizes every set, ordered by name.
func (m *MockTemplateRepository) ListSets(ctx context.Context) ([]database.SetSummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySet := make(map[string]*database.SetSummary)
	for k, t := range m.templates {
		s, ok := bySet[k.set]
		if !ok {
			s = &database.SetSummary{Name: k.set}
			bySet[k.set] = s
		}
		if t.NoFace {
			s.NoFace++
		} else {
			s.Templates++
		}
	}
	out := make([]database.SetSummary, 0, len(bySet))
	for _, s := range bySet {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindNearest performs an exhaustive search with facematch.Distance.
func (m *MockTemplateRepository) FindNearest(ctx context.Context, set string, feature facematch.FeatureVector, limit int) ([]database.Neighbor, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	templates, err := m.GetTemplates(ctx, set)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = database.DefaultNearestLimit
	}

	var out []database.Neighbor
	for _, t := range templates {
		if t.NoFace {
			continue
		}
		d, err := facematch.Distance(feature, t.Feature)
		if err != nil {
			continue
		}
		out = append(out, database.Neighbor{Index: t.Index, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
