package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-scan/internal/facematch"
)

// FeatureIndexMetadata stores metadata for validating cached indexes.
type FeatureIndexMetadata struct {
	Set       string    `json:"set"`
	Count     int       `json:"count"`
	Shape     string    `json:"shape"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const featureIndexVersion = 1

// FeatureIndex is an HNSW shortlist over the templates of one set. The graph
// ranks by plain Euclidean distance on the flattened feature; results are
// reranked with facematch.Distance. Only templates sharing the shape of the
// first indexed feature are accepted.
type FeatureIndex struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[int64]
	shape    string
	features map[int64]facematch.FeatureVector
	skipped  int
}

// NewFeatureIndex creates a new empty index.
func NewFeatureIndex() *FeatureIndex {
	return &FeatureIndex{features: make(map[int64]facematch.FeatureVector)}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index content with the given templates. No-face rows are ignored.
func (x *FeatureIndex) Build(templates []StoredTemplate) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = nil
	x.shape = ""
	x.skipped = 0
	x.features = make(map[int64]facematch.FeatureVector, len(templates))
	for i := range templates {
		t := &templates[i]
		if t.NoFace || len(t.Feature) == 0 {
			continue
		}
		x.addLocked(int64(t.Index), t.Feature)
	}
}

// Add indexes one feature under key. It reports false when the feature shape
// differs from the indexed shape.
func (x *FeatureIndex) Add(key int64, fv facematch.FeatureVector) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.addLocked(key, fv)
}

func (x *FeatureIndex) addLocked(key int64, fv facematch.FeatureVector) bool {
	if len(fv) == 0 {
		return false
	}
	shape := fv.Shape()
	if x.graph == nil {
		x.graph = newGraph()
		x.shape = shape
	}
	if shape != x.shape {
		x.skipped++
		return false
	}
	_, replaced := x.features[key]
	x.features[key] = fv
	if replaced {
		x.rebuildGraphLocked()
		return true
	}
	x.graph.Add(hnsw.MakeNode(key, fv.Flatten32()))
	return true
}

// Remove drops key from the index. It reports whether the key was indexed.
func (x *FeatureIndex) Remove(key int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.features[key]; !ok {
		return false
	}
	delete(x.features, key)
	if len(x.features) == 0 {
		x.graph = nil
		x.shape = ""
		return true
	}
	x.rebuildGraphLocked()
	return true
}

// rebuildGraphLocked recreates the graph from the features map in key order.
func (x *FeatureIndex) rebuildGraphLocked() {
	keys := make([]int64, 0, len(x.features))
	for k := range x.features {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	x.graph = newGraph()
	for _, k := range keys {
		x.graph.Add(hnsw.MakeNode(k, x.features[k].Flatten32()))
	}
}

// Search returns up to k template indices nearest to query, closest first.
func (x *FeatureIndex) Search(query facematch.FeatureVector, k int) ([]Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if query.Shape() != x.shape {
		return nil, fmt.Errorf("%w: query does not match indexed shape", facematch.ErrShapeMismatch)
	}
	if k <= 0 {
		k = DefaultNearestLimit
	}

	nodes := x.graph.Search(query.Flatten32(), k*HNSWSearchMultiplier)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		fv, ok := x.features[n.Key]
		if !ok {
			continue
		}
		d, err := facematch.Distance(query, fv)
		if err != nil {
			continue
		}
		out = append(out, Neighbor{Index: int(n.Key), Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of indexed templates.
func (x *FeatureIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.features)
}

// Skipped returns how many features were rejected for a different shape.
func (x *FeatureIndex) Skipped() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.skipped
}

// IsEmpty returns true if the index has no graph data loaded.
func (x *FeatureIndex) IsEmpty() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph == nil
}

// Save persists the graph to path, the features to path.features and the
// metadata to path.meta.
func (x *FeatureIndex) Save(path string, metadata FeatureIndexMetadata) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".features")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := x.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(x.features); err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if err := os.WriteFile(path+".features", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write features file: %w", err)
	}

	metadata.Version = featureIndexVersion
	metadata.Count = len(x.features)
	metadata.Shape = x.shape
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadFeatureIndexMetadata loads metadata from a separate .meta file.
func LoadFeatureIndexMetadata(path string) (FeatureIndexMetadata, error) {
	var metadata FeatureIndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load replaces the index with the files written by Save. A missing index file
// leaves the index empty and is not an error.
func (x *FeatureIndex) Load(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metadata, err := LoadFeatureIndexMetadata(path)
	if err != nil {
		return err
	}
	if metadata.Version != featureIndexVersion {
		return fmt.Errorf("unsupported index version %d", metadata.Version)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".features") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read features file: %w", err)
	}
	var features map[int64]facematch.FeatureVector
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&features); err != nil {
		return fmt.Errorf("failed to decode features: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = saved.Graph
	x.shape = metadata.Shape
	x.features = features
	x.skipped = 0
	return nil
}

// Keys returns the indexed template indices in ascending order.
func (x *FeatureIndex) Keys() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	keys := make([]int64, 0, len(x.features))
	for k := range x.features {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
