// Package catalog keeps named candidate sets in memory and mirrors their
// resolved slots into the template store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/metrics"
	"github.com/kozaktomas/face-scan/internal/scanner"
)

var (
	// ErrSetNotFound is returned for a name with no loaded set.
	ErrSetNotFound = errors.New("candidate set not found")
	// ErrInvalidName is returned when a name normalizes to nothing.
	ErrInvalidName = errors.New("invalid set name")
	// ErrNoStore is returned by store-only operations when no repository is configured.
	ErrNoStore = errors.New("template store not configured")
)

// Set is a named candidate store. It is safe for concurrent use.
type Set struct {
	name  string
	mu    sync.RWMutex
	items scanner.Items
}

var _ scanner.ItemStore = (*Set)(nil)

// Name returns the normalized set name.
func (s *Set) Name() string { return s.name }

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Set) Slot(i int) scanner.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[i]
}

func (s *Set) SetSlot(i int, slot scanner.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[i] = slot
}

// Summary describes the cache state of a set.
type Summary struct {
	Name     string `json:"name"`
	Items    int    `json:"items"`
	Features int    `json:"features"`
	NoFace   int    `json:"noFace"`
}

// Summary counts the slots of the set by kind.
func (s *Set) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Name: s.name, Items: len(s.items)}
	for _, slot := range s.items {
		switch slot.Kind {
		case scanner.SlotFeature:
			sum.Features++
		case scanner.SlotNoFace:
			sum.NoFace++
		}
	}
	return sum
}

// Catalog holds the loaded sets. The template repository is optional; without
// it sets live only in memory.
type Catalog struct {
	repo   database.TemplateRepository
	logger *zap.Logger

	mu   sync.RWMutex
	sets map[string]*Set

	// writeMu orders template writes against Create, Open and Delete so a
	// replaced set can no longer write under its name.
	writeMu sync.RWMutex
}

// New creates a catalog backed by repo, which may be nil.
func New(repo database.TemplateRepository, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		repo:   repo,
		logger: logger,
		sets:   make(map[string]*Set),
	}
}

// Persistent reports whether updates are written to a template store.
func (c *Catalog) Persistent() bool {
	return c.repo != nil
}

// Create registers a fresh set of raw images under name, replacing any loaded
// set and any persisted templates of the same name.
func (c *Catalog) Create(ctx context.Context, name string, images [][]byte) (*Set, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.repo != nil {
		if err := c.repo.DeleteSet(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to clear templates of %s: %w", key, err)
		}
	}

	set := &Set{name: key, items: make(scanner.Items, len(images))}
	for i, img := range images {
		set.items[i] = scanner.RawSlot(img)
	}
	c.store(set)
	c.logger.Info("created candidate set", zap.String("set", key), zap.Int("items", len(images)))
	return set, nil
}

// Open registers a set of raw images under name and resolves every index that
// already has a persisted template, so those items skip detection.
func (c *Catalog) Open(ctx context.Context, name string, images [][]byte) (*Set, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	set := &Set{name: key, items: make(scanner.Items, len(images))}
	for i, img := range images {
		set.items[i] = scanner.RawSlot(img)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	preloaded := 0
	if c.repo != nil {
		templates, err := c.repo.GetTemplates(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates of %s: %w", key, err)
		}
		for _, t := range templates {
			if t.Index < 0 || t.Index >= len(images) {
				continue
			}
			switch {
			case t.NoFace:
				set.items[t.Index] = scanner.NoFaceSlot()
			case len(t.Feature) > 0:
				set.items[t.Index] = scanner.FeatureSlot(t.Feature)
			default:
				continue
			}
			preloaded++
		}
	}

	c.store(set)
	c.logger.Info("opened candidate set",
		zap.String("set", key),
		zap.Int("items", len(images)),
		zap.Int("preloaded", preloaded))
	return set, nil
}

func (c *Catalog) store(set *Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[set.name] = set
}

// current reports whether set is still the one registered under its name.
func (c *Catalog) current(set *Set) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sets[set.name] == set
}

// Get returns a loaded set.
func (c *Catalog) Get(name string) (*Set, error) {
	key := NormalizeName(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSetNotFound, key)
	}
	return set, nil
}

// List summarizes the loaded sets ordered by name.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	sets := make([]*Set, 0, len(c.sets))
	for _, s := range c.sets {
		sets = append(sets, s)
	}
	c.mu.RUnlock()

	out := make([]Summary, 0, len(sets))
	for _, s := range sets {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete unloads a set and removes its persisted templates.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	key := NormalizeName(name)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	_, ok := c.sets[key]
	delete(c.sets, key)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSetNotFound, key)
	}
	if c.repo != nil {
		if err := c.repo.DeleteSet(ctx, key); err != nil {
			return fmt.Errorf("failed to delete templates of %s: %w", key, err)
		}
	}
	return nil
}

// Persist writes a resolved slot of a set to the template store. Raw slots
// and catalogs without a store are ignored, and so are sets that have been
// replaced or deleted since the slot was resolved.
func (c *Catalog) Persist(ctx context.Context, set *Set, index int, slot scanner.Slot) error {
	if c.repo == nil || !slot.Resolved() {
		return nil
	}
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	if !c.current(set) {
		metrics.TemplatesPersistedTotal.WithLabelValues("stale").Inc()
		c.logger.Debug("dropped template of replaced set",
			zap.String("set", set.name),
			zap.Int("index", index))
		return nil
	}
	t := database.StoredTemplate{
		Set:    set.name,
		Index:  index,
		NoFace: slot.Kind == scanner.SlotNoFace,
	}
	if slot.Kind == scanner.SlotFeature {
		t.Feature = slot.Feature
	}
	if err := c.repo.SaveTemplate(ctx, t); err != nil {
		metrics.TemplatesPersistedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to persist %s/%d: %w", t.Set, index, err)
	}
	metrics.TemplatesPersistedTotal.WithLabelValues("ok").Inc()
	return nil
}

// FindNearest returns the stored templates of a set closest to a feature.
func (c *Catalog) FindNearest(ctx context.Context, set string, feature facematch.FeatureVector, limit int) ([]database.Neighbor, error) {
	if c.repo == nil {
		return nil, ErrNoStore
	}
	return c.repo.FindNearest(ctx, NormalizeName(set), feature, limit)
}
