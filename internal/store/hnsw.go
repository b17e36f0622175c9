package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

const (
	indexFileExt = ".hnsw"
	metaFileExt  = ".meta"
)

// HNSWConfig tunes every index the store creates.
type HNSWConfig struct {
	// Dir persists indexes as <name>.hnsw plus <name>.hnsw.meta. Empty keeps
	// everything in memory.
	Dir      string
	M        int
	EfSearch int
}

// HNSWVectorStore implements VectorStore on coder/hnsw graphs, one graph per
// named index. Metadata filters are applied after the graph search, which
// over-fetches until enough matches survive.
type HNSWVectorStore struct {
	mu      sync.RWMutex
	cfg     HNSWConfig
	indexes map[string]*hnswIndex
	closed  bool
}

var _ VectorStore = (*HNSWVectorStore)(nil)

// hnswIndex is one named graph. Deletion is lazy: the node stays in the
// graph and only the id mappings go, because coder/hnsw misbehaves when the
// last node is deleted.
type hnswIndex struct {
	spec    IndexSpec
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[uint64]ChunkMetadata
	nextKey uint64
	dirty   bool
}

// hnswFileMeta is the gob sidecar. Metadata is kept as JSON because gob
// cannot encode arbitrary interface values without registration.
type hnswFileMeta struct {
	Spec     IndexSpec
	IDMap    map[string]uint64
	Metadata map[uint64][]byte
	NextKey  uint64
}

// NewHNSWVectorStore opens the store and loads any indexes found in cfg.Dir.
func NewHNSWVectorStore(cfg HNSWConfig) (*HNSWVectorStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	s := &HNSWVectorStore{cfg: cfg, indexes: make(map[string]*hnswIndex)}
	if cfg.Dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, kberrors.StorageError("failed to create vector directory", err)
	}
	paths, err := filepath.Glob(filepath.Join(cfg.Dir, "*"+indexFileExt))
	if err != nil {
		return nil, kberrors.StorageError("failed to list vector indexes", err)
	}
	for _, path := range paths {
		idx, err := s.loadIndex(path)
		if err != nil {
			return nil, err
		}
		s.indexes[idx.spec.Name] = idx
		slog.Debug("vector_index_loaded",
			slog.String("index", idx.spec.Name),
			slog.Int("count", len(idx.idMap)))
	}
	return s, nil
}

func (s *HNSWVectorStore) newGraph(spec IndexSpec) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if spec.Metric == MetricEuclidean {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = s.cfg.M
	g.EfSearch = s.cfg.EfSearch
	g.Ml = 0.25
	return g
}

func (s *HNSWVectorStore) checkOpen() error {
	if s.closed {
		return kberrors.StorageError("vector store is closed", nil)
	}
	return nil
}

// ListIndexes returns index names in sorted order.
func (s *HNSWVectorStore) ListIndexes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateIndex adds an empty index.
func (s *HNSWVectorStore) CreateIndex(_ context.Context, spec IndexSpec) error {
	if strings.TrimSpace(spec.Name) == "" || strings.ContainsAny(spec.Name, `/\`) {
		return kberrors.ValidationError(fmt.Sprintf("invalid index name %q", spec.Name), nil)
	}
	if spec.Dimension <= 0 {
		return kberrors.ValidationError("index dimension must be positive", nil)
	}
	if spec.Metric == "" {
		spec.Metric = MetricCosine
	}
	if spec.Metric != MetricCosine && spec.Metric != MetricEuclidean {
		return kberrors.ValidationError(fmt.Sprintf("unsupported metric %q", spec.Metric), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.indexes[spec.Name]; exists {
		return kberrors.New(kberrors.ErrCodeStorage, fmt.Sprintf("vector index %q already exists", spec.Name), nil)
	}
	s.indexes[spec.Name] = &hnswIndex{
		spec:   spec,
		graph:  s.newGraph(spec),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[uint64]ChunkMetadata),
		dirty:  true,
	}
	slog.Info("vector_index_created",
		slog.String("index", spec.Name),
		slog.Int("dimension", spec.Dimension),
		slog.String("metric", spec.Metric))
	return nil
}

// DescribeIndex reports the live record count and the graph nodes still
// awaiting compaction.
func (s *HNSWVectorStore) DescribeIndex(_ context.Context, name string) (IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return IndexInfo{}, err
	}
	idx, ok := s.indexes[name]
	if !ok {
		return IndexInfo{}, IndexNotFound(name)
	}
	return IndexInfo{
		Name:      name,
		Dimension: idx.spec.Dimension,
		Metric:    idx.spec.Metric,
		Count:     len(idx.idMap),
		Orphans:   idx.graph.Len() - len(idx.idMap),
	}, nil
}

// Upsert inserts records, orphaning any previous node with the same id.
func (s *HNSWVectorStore) Upsert(_ context.Context, index string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	idx, ok := s.indexes[index]
	if !ok {
		return IndexNotFound(index)
	}

	// Validate the whole batch before touching the graph.
	for _, r := range records {
		if r.ID == "" {
			return kberrors.ValidationError("vector record id is required", nil)
		}
		if len(r.Values) != idx.spec.Dimension {
			return kberrors.New(kberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector %s has %d dimensions, index %q expects %d",
					r.ID, len(r.Values), index, idx.spec.Dimension), nil)
		}
	}

	for _, r := range records {
		idx.remove(r.ID)

		key := idx.nextKey
		idx.nextKey++

		vec := make([]float32, len(r.Values))
		copy(vec, r.Values)
		if idx.spec.Metric == MetricCosine {
			normalizeInPlace(vec)
		}
		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[r.ID] = key
		idx.keyMap[key] = r.ID
		idx.meta[key] = r.Metadata
	}
	idx.dirty = true
	return nil
}

func (idx *hnswIndex) remove(id string) bool {
	key, ok := idx.idMap[id]
	if !ok {
		return false
	}
	delete(idx.idMap, id)
	delete(idx.keyMap, key)
	delete(idx.meta, key)
	return true
}

// Query searches the graph, then drops orphaned nodes, filter misses and
// matches below MinScore. The fetch size doubles until TopK matches survive
// or the whole graph has been searched.
func (s *HNSWVectorStore) Query(_ context.Context, index string, q VectorQuery) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	idx, ok := s.indexes[index]
	if !ok {
		return nil, IndexNotFound(index)
	}
	if len(q.Vector) != idx.spec.Dimension {
		return nil, kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index %q expects %d", len(q.Vector), index, idx.spec.Dimension), nil)
	}
	if q.TopK <= 0 || idx.graph.Len() == 0 || len(idx.idMap) == 0 {
		return []VectorMatch{}, nil
	}

	query := make([]float32, len(q.Vector))
	copy(query, q.Vector)
	if idx.spec.Metric == MetricCosine {
		normalizeInPlace(query)
	}

	total := idx.graph.Len()
	fetch := q.TopK * 2
	if len(q.Filter) > 0 {
		fetch = q.TopK * 4
	}
	for {
		if fetch > total {
			fetch = total
		}
		matches := idx.collect(query, fetch, q)
		if len(matches) >= q.TopK || fetch >= total {
			if len(matches) > q.TopK {
				matches = matches[:q.TopK]
			}
			return matches, nil
		}
		fetch *= 2
	}
}

func (idx *hnswIndex) collect(query []float32, fetch int, q VectorQuery) []VectorMatch {
	nodes := idx.graph.Search(query, fetch)
	matches := make([]VectorMatch, 0, len(nodes))
	for _, node := range nodes {
		id, live := idx.keyMap[node.Key]
		if !live {
			continue
		}
		meta := idx.meta[node.Key]
		if !meta.Matches(q.Filter) {
			continue
		}
		score := distanceToScore(idx.graph.Distance(query, node.Value), idx.spec.Metric)
		if score < q.MinScore {
			continue
		}
		matches = append(matches, VectorMatch{ID: id, Score: score, Metadata: meta})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

// DeleteVectors removes every live record matching filter.
func (s *HNSWVectorStore) DeleteVectors(_ context.Context, index string, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, kberrors.ValidationError("refusing to delete vectors without a filter", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	idx, ok := s.indexes[index]
	if !ok {
		return 0, IndexNotFound(index)
	}

	var doomed []string
	for key, meta := range idx.meta {
		if meta.Matches(filter) {
			doomed = append(doomed, idx.keyMap[key])
		}
	}
	for _, id := range doomed {
		idx.remove(id)
	}
	if len(doomed) > 0 {
		idx.dirty = true
	}
	return len(doomed), nil
}

func (s *HNSWVectorStore) compactLocked(idx *hnswIndex) {
	orphans := idx.graph.Len() - len(idx.idMap)
	if orphans == 0 {
		return
	}
	graph := s.newGraph(idx.spec)
	for _, key := range idx.idMap {
		if vec, ok := idx.graph.Lookup(key); ok {
			graph.Add(hnsw.MakeNode(key, vec))
		}
	}
	idx.graph = graph
	idx.dirty = true
	slog.Debug("vector_index_compacted",
		slog.String("index", idx.spec.Name),
		slog.Int("orphans_removed", orphans))
}

// Save writes every modified index to Dir. Indexes with more orphans than
// live nodes are compacted first.
func (s *HNSWVectorStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *HNSWVectorStore) saveLocked() error {
	if s.cfg.Dir == "" {
		return nil
	}
	for name, idx := range s.indexes {
		if !idx.dirty {
			continue
		}
		if idx.graph.Len()-len(idx.idMap) > len(idx.idMap) {
			s.compactLocked(idx)
		}
		if err := s.saveIndex(idx); err != nil {
			return kberrors.StorageError(fmt.Sprintf("failed to save vector index %q", name), err)
		}
		idx.dirty = false
	}
	return nil
}

func (s *HNSWVectorStore) indexPath(name string) string {
	return filepath.Join(s.cfg.Dir, name+indexFileExt)
}

// saveIndex writes graph then sidecar, each via temp file and rename.
func (s *HNSWVectorStore) saveIndex(idx *hnswIndex) error {
	path := s.indexPath(idx.spec.Name)
	if err := writeAtomic(path, func(f *os.File) error { return idx.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	fm := hnswFileMeta{
		Spec:     idx.spec,
		IDMap:    idx.idMap,
		Metadata: make(map[uint64][]byte, len(idx.meta)),
		NextKey:  idx.nextKey,
	}
	for key, meta := range idx.meta {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", idx.keyMap[key], err)
		}
		fm.Metadata[key] = data
	}
	return writeAtomic(path+metaFileExt, func(f *os.File) error { return gob.NewEncoder(f).Encode(fm) })
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *HNSWVectorStore) loadIndex(path string) (*hnswIndex, error) {
	mf, err := os.Open(path + metaFileExt)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "vector index metadata missing", err).
			WithDetail("path", path)
	}
	defer func() { _ = mf.Close() }()

	var fm hnswFileMeta
	if err := gob.NewDecoder(mf).Decode(&fm); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "failed to decode vector index metadata", err).
			WithDetail("path", path)
	}

	idx := &hnswIndex{
		spec:    fm.Spec,
		graph:   s.newGraph(fm.Spec),
		idMap:   fm.IDMap,
		keyMap:  make(map[uint64]string, len(fm.IDMap)),
		meta:    make(map[uint64]ChunkMetadata, len(fm.Metadata)),
		nextKey: fm.NextKey,
	}
	if idx.idMap == nil {
		idx.idMap = make(map[string]uint64)
	}
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}
	for key, data := range fm.Metadata {
		var meta ChunkMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "failed to decode chunk metadata", err).
				WithDetail("path", path)
		}
		idx.meta[key] = meta
	}

	gf, err := os.Open(path)
	if err != nil {
		return nil, kberrors.StorageError("failed to open vector index", err)
	}
	defer func() { _ = gf.Close() }()
	// Import needs an io.ByteReader.
	if err := idx.graph.Import(bufio.NewReader(gf)); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeCorruptIndex, "failed to import vector graph", err).
			WithDetail("path", path)
	}
	return idx, nil
}

// Close saves pending changes and releases the graphs.
func (s *HNSWVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.saveLocked()
	s.closed = true
	s.indexes = nil
	return err
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance to cosine similarity and euclidean
// distance into (0, 1].
func distanceToScore(distance float32, metric string) float32 {
	if metric == MetricEuclidean {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance
}
