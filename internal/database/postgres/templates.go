package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
)

// TemplateRepository stores candidate templates in PostgreSQL and keeps an
// optional in-memory HNSW index per set.
type TemplateRepository struct {
	pool *Pool

	mu      sync.RWMutex
	indexes map[string]*database.FeatureIndex
	// writes counts template writes per set; a lazily built index is only
	// installed when no write raced with its build.
	writes map[string]uint64
}

// NewTemplateRepository creates a repository on top of the pool.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{
		pool:    pool,
		indexes: make(map[string]*database.FeatureIndex),
		writes:  make(map[string]uint64),
	}
}

var (
	_ database.TemplateRepository = (*TemplateRepository)(nil)
	_ database.IndexRebuilder     = (*TemplateRepository)(nil)
)

// SaveTemplate inserts or replaces the template at (Set, Index).
func (r *TemplateRepository) SaveTemplate(ctx context.Context, t database.StoredTemplate) error {
	var (
		feature   any
		embedding any
		dims      int
	)
	if !t.NoFace && len(t.Feature) > 0 {
		data, err := json.Marshal(t.Feature.Map())
		if err != nil {
			return fmt.Errorf("marshal feature: %w", err)
		}
		flat := t.Feature.Flatten32()
		feature = string(data)
		embedding = pgvector.NewVector(flat)
		dims = len(flat)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (set_name, item_index, feature, embedding, dims, no_face)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (set_name, item_index) DO UPDATE SET
			feature = EXCLUDED.feature,
			embedding = EXCLUDED.embedding,
			dims = EXCLUDED.dims,
			no_face = EXCLUDED.no_face,
			updated_at = NOW()
	`, t.Set, t.Index, feature, embedding, dims, t.NoFace)
	if err != nil {
		return fmt.Errorf("save template %s/%d: %w", t.Set, t.Index, err)
	}

	r.mu.Lock()
	r.writes[t.Set]++
	idx := r.indexes[t.Set]
	r.mu.Unlock()
	if idx == nil {
		return nil
	}
	if t.NoFace || len(t.Feature) == 0 {
		idx.Remove(int64(t.Index))
		return nil
	}
	if !idx.Add(int64(t.Index), t.Feature) {
		// a different shape must not keep serving the old feature
		idx.Remove(int64(t.Index))
	}
	return nil
}

// DeleteSet removes every template of a set and drops its index.
func (r *TemplateRepository) DeleteSet(ctx context.Context, set string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM templates WHERE set_name = $1", set); err != nil {
		return fmt.Errorf("delete set %s: %w", set, err)
	}
	r.mu.Lock()
	delete(r.indexes, set)
	r.writes[set]++
	r.mu.Unlock()
	return nil
}

// GetTemplates retrieves all templates of a set ordered by index.
func (r *TemplateRepository) GetTemplates(ctx context.Context, set string) ([]database.StoredTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, set_name, item_index, feature, no_face, created_at, updated_at
		FROM templates
		WHERE set_name = $1
		ORDER BY item_index
	`, set)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.StoredTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

// GetTemplate retrieves one template, returns nil if not found.
func (r *TemplateRepository) GetTemplate(ctx context.Context, set string, index int) (*database.StoredTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, set_name, item_index, feature, no_face, created_at, updated_at
		FROM templates
		WHERE set_name = $1 AND item_index = $2
	`, set, index)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListSets returns every set with its template counts.
func (r *TemplateRepository) ListSets(ctx context.Context) ([]database.SetSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT set_name,
			COUNT(*) FILTER (WHERE NOT no_face),
			COUNT(*) FILTER (WHERE no_face)
		FROM templates
		GROUP BY set_name
		ORDER BY set_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.SetSummary
	for rows.Next() {
		var s database.SetSummary
		if err := rows.Scan(&s.Name, &s.Templates, &s.NoFace); err != nil {
			return nil, fmt.Errorf("scan set summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sets: %w", err)
	}
	return out, nil
}

// FindNearest returns up to limit templates closest to the feature. It uses the
// in-memory index of the set, building it on first use, and falls back to a
// pgvector L2 shortlist when the index is empty or holds another feature
// shape. Both paths rerank with facematch.Distance.
func (r *TemplateRepository) FindNearest(ctx context.Context, set string, feature facematch.FeatureVector, limit int) ([]database.Neighbor, error) {
	if limit <= 0 {
		limit = database.DefaultNearestLimit
	}

	idx, err := r.index(ctx, set)
	if err != nil {
		return nil, err
	}
	if idx != nil && !idx.IsEmpty() {
		out, err := idx.Search(feature, limit)
		if !errors.Is(err, facematch.ErrShapeMismatch) {
			return out, err
		}
	}

	flat := feature.Flatten32()
	rows, err := r.pool.Query(ctx, `
		SELECT item_index, feature
		FROM templates
		WHERE set_name = $1 AND NOT no_face AND dims = $2
		ORDER BY embedding <-> $3
		LIMIT $4
	`, set, len(flat), pgvector.NewVector(flat), limit*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var (
			index int
			raw   []byte
		)
		if err := rows.Scan(&index, &raw); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		fv, err := decodeFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("template %s/%d: %w", set, index, err)
		}
		d, err := facematch.Distance(feature, fv)
		if err != nil {
			continue
		}
		out = append(out, database.Neighbor{Index: index, Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// index returns the index of a set, building it from the store when none is
// loaded. The result is nil when a concurrent write made the build stale.
func (r *TemplateRepository) index(ctx context.Context, set string) (*database.FeatureIndex, error) {
	r.mu.RLock()
	idx := r.indexes[set]
	gen := r.writes[set]
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	templates, err := r.GetTemplates(ctx, set)
	if err != nil {
		return nil, err
	}
	idx = database.NewFeatureIndex()
	idx.Build(templates)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.indexes[set]; existing != nil {
		return existing, nil
	}
	if r.writes[set] != gen {
		return nil, nil
	}
	r.indexes[set] = idx
	return idx, nil
}

// RebuildIndex loads every template of the set into a fresh in-memory index.
func (r *TemplateRepository) RebuildIndex(ctx context.Context, set string) error {
	templates, err := r.GetTemplates(ctx, set)
	if err != nil {
		return err
	}
	idx := database.NewFeatureIndex()
	idx.Build(templates)

	r.mu.Lock()
	r.indexes[set] = idx
	r.mu.Unlock()
	return nil
}

// IndexCount returns the number of templates indexed for a set.
func (r *TemplateRepository) IndexCount(set string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexes[set]; idx != nil {
		return idx.Count()
	}
	return 0
}

// SaveIndexes writes every built index to dir as <set>.hnsw.
func (r *TemplateRepository) SaveIndexes(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for set, idx := range r.indexes {
		meta := database.FeatureIndexMetadata{Set: set, BuildTime: time.Now()}
		if err := idx.Save(filepath.Join(dir, set+".hnsw"), meta); err != nil {
			return fmt.Errorf("save index %s: %w", set, err)
		}
	}
	return nil
}

// LoadIndex loads a saved index of a set from dir. It reports false when no
// saved index exists or its template count no longer matches the store.
func (r *TemplateRepository) LoadIndex(ctx context.Context, dir, set string) (bool, error) {
	if dir == "" {
		return false, nil
	}
	path := filepath.Join(dir, set+".hnsw")
	meta, err := database.LoadFeatureIndexMetadata(path)
	if err != nil {
		return false, nil
	}

	var stored int
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM templates WHERE set_name = $1 AND NOT no_face", set,
	).Scan(&stored); err != nil {
		return false, fmt.Errorf("count templates: %w", err)
	}
	if stored != meta.Count {
		return false, nil
	}

	idx := database.NewFeatureIndex()
	if err := idx.Load(path); err != nil {
		return false, err
	}
	r.mu.Lock()
	r.indexes[set] = idx
	r.mu.Unlock()
	return true, nil
}

// DeleteTemplates removes the given indices of a set.
func (r *TemplateRepository) DeleteTemplates(ctx context.Context, set string, indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	ids := make([]int64, len(indices))
	for i, v := range indices {
		ids[i] = int64(v)
	}
	if _, err := r.pool.Exec(ctx,
		"DELETE FROM templates WHERE set_name = $1 AND item_index = ANY($2)", set, pq.Array(ids),
	); err != nil {
		return fmt.Errorf("delete templates: %w", err)
	}
	// rebuilt on next FindNearest
	r.mu.Lock()
	delete(r.indexes, set)
	r.writes[set]++
	r.mu.Unlock()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (database.StoredTemplate, error) {
	var (
		t   database.StoredTemplate
		raw []byte
	)
	if err := row.Scan(&t.ID, &t.Set, &t.Index, &raw, &t.NoFace, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan template: %w", err)
	}
	if len(raw) > 0 {
		fv, err := decodeFeature(raw)
		if err != nil {
			return t, fmt.Errorf("template %s/%d: %w", t.Set, t.Index, err)
		}
		t.Feature = fv
	}
	return t, nil
}

func decodeFeature(raw []byte) (facematch.FeatureVector, error) {
	var m map[string][]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode feature: %w", err)
	}
	return facematch.FromMap(m)
}
