// Package index provides an incrementally-buildable nearest-neighbor
// structure over chunk embeddings. Small corpora use an exact linear scan;
// above a configurable threshold the index switches to a clustered
// (IVF-style) approximate structure. The index and its parallel chunk list
// persist together as a single artifact so they cannot desynchronize on disk.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/quarrylabs/quarry/internal/chunker"
)

var (
	// ErrIndexInconsistent means the persisted index and chunk list
	// disagree; the index must be rebuilt from source text.
	ErrIndexInconsistent = errors.New("index and chunk list inconsistent, rebuild required")

	// ErrDimensionMismatch means a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch means the persisted index was built with a different
	// embedding model than the one configured.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// Kind identifies the active search structure.
type Kind string

const (
	// KindFlat is the exact linear-scan structure.
	KindFlat Kind = "flat"

	// KindIVF is the clustered approximate structure.
	KindIVF Kind = "ivf"
)

// Config configures the index.
type Config struct {
	// Dimensions is the fixed vector length. Required.
	Dimensions int `yaml:"dimensions"`

	// Model is the embedding model the vectors came from. Vectors from a
	// different model are a configuration error, not a silent failure.
	Model string `yaml:"model"`

	// ApproxThreshold is the corpus size at which the index switches from
	// exact to clustered search. The cutover point is a heuristic; treat it
	// as tunable.
	ApproxThreshold int `yaml:"approx_threshold"`

	// NProbe is the number of clusters probed per approximate search.
	NProbe int `yaml:"nprobe"`
}

// DefaultConfig returns defaults favoring exactness for corpora under ~10k
// vectors.
func DefaultConfig(dims int, model string) Config {
	return Config{
		Dimensions:      dims,
		Model:           model,
		ApproxThreshold: 10_000,
		NProbe:          8,
	}
}

// Result is one search hit: a chunk and its similarity score.
type Result struct {
	Chunk chunker.Chunk
	Score float32
}

// Index owns an ordered chunk list and the parallel vector structure.
// All mutations serialize behind a single writer lock; reads proceed
// concurrently against the last committed state.
type Index struct {
	mu  sync.RWMutex
	cfg Config

	chunks  []chunker.Chunk
	vectors [][]float32

	// Clustered structure; nil centroids means flat search.
	centroids [][]float32
	clusters  [][]int

	logger *slog.Logger
}

// New creates an empty index.
func New(cfg Config, logger *slog.Logger) *Index {
	if cfg.ApproxThreshold <= 0 {
		cfg.ApproxThreshold = 10_000
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{cfg: cfg, logger: logger}
}

// Build replaces the index contents and chooses the search structure for
// the corpus size: exact below the threshold, clustered at or above it.
func (ix *Index) Build(chunks []chunker.Chunk, vectors [][]float32) error {
	if err := validatePair(chunks, vectors, ix.cfg.Dimensions); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.chunks = append([]chunker.Chunk(nil), chunks...)
	ix.vectors = append([][]float32(nil), vectors...)
	ix.retrainLocked()
	return nil
}

// Add incrementally inserts vectors without a full rebuild. On the
// clustered structure, new vectors are assigned to their nearest existing
// centroid; clusters are only retrained by Build, Load, or Rebuild.
func (ix *Index) Add(chunks []chunker.Chunk, vectors [][]float32) error {
	if err := validatePair(chunks, vectors, ix.cfg.Dimensions); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i := range chunks {
		offset := len(ix.chunks)
		ix.chunks = append(ix.chunks, chunks[i])
		ix.vectors = append(ix.vectors, vectors[i])
		if ix.centroids != nil {
			c := ix.nearestCentroid(vectors[i])
			ix.clusters[c] = append(ix.clusters[c], offset)
		}
	}
	return nil
}

// Search returns the k nearest chunks to the query vector, ranked by
// descending cosine similarity. Equal scores preserve insertion order.
// k is clamped to the index size; an empty index returns an empty result.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != ix.cfg.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimensionMismatch, len(query), ix.cfg.Dimensions)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.vectors) == 0 || k <= 0 {
		return []Result{}, nil
	}
	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}

	var offsets []int
	if ix.centroids == nil {
		offsets = make([]int, len(ix.vectors))
		for i := range offsets {
			offsets[i] = i
		}
	} else {
		offsets = ix.probeCandidates(query, k)
	}

	// Offsets are ascending on both paths, so the stable sort alone keeps
	// insertion order among equal scores.
	scored := make([]Result, 0, len(offsets))
	for _, off := range offsets {
		scored = append(scored, Result{
			Chunk: ix.chunks[off],
			Score: cosine(query, ix.vectors[off]),
		})
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// probeCandidates gathers vector offsets from the nprobe nearest clusters,
// widening if the probe set holds fewer than k candidates. Offsets are
// returned in ascending order so ties keep insertion order.
func (ix *Index) probeCandidates(query []float32, k int) []int {
	type centroidScore struct {
		idx   int
		score float32
	}
	cs := make([]centroidScore, len(ix.centroids))
	for i, c := range ix.centroids {
		cs[i] = centroidScore{idx: i, score: cosine(query, c)}
	}
	sort.SliceStable(cs, func(a, b int) bool { return cs[a].score > cs[b].score })

	var offsets []int
	probed := 0
	for _, c := range cs {
		if probed >= ix.cfg.NProbe && len(offsets) >= k {
			break
		}
		offsets = append(offsets, ix.clusters[c.idx]...)
		probed++
	}
	sort.Ints(offsets)
	return offsets
}

// RemoveSource deletes every chunk ingested under sourceID and retrains the
// structure. Used when a source is re-ingested: its chunks are superseded
// wholesale, never partially edited. Returns the number of removed chunks.
func (ix *Index) RemoveSource(sourceID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	kept := ix.chunks[:0:0]
	keptVecs := ix.vectors[:0:0]
	removed := 0
	for i, ch := range ix.chunks {
		if ch.SourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, ch)
		keptVecs = append(keptVecs, ix.vectors[i])
	}
	if removed == 0 {
		return 0
	}
	ix.chunks = kept
	ix.vectors = keptVecs
	ix.retrainLocked()
	return removed
}

// Rebuild retrains the search structure from the current vectors. This is
// the recovery path after ErrIndexInconsistent and the way incremental adds
// get folded into fresh clusters.
func (ix *Index) Rebuild() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.retrainLocked()
}

// retrainLocked picks the structure for the current corpus size. Caller
// holds the write lock.
func (ix *Index) retrainLocked() {
	if len(ix.vectors) < ix.cfg.ApproxThreshold {
		ix.centroids = nil
		ix.clusters = nil
		return
	}
	ix.centroids, ix.clusters = train(ix.vectors, ix.cfg.Dimensions)
	ix.logger.Info("index clustered",
		"vectors", len(ix.vectors), "clusters", len(ix.centroids))
}

// nearestCentroid returns the centroid index with the highest similarity.
// Caller holds a lock.
func (ix *Index) nearestCentroid(v []float32) int {
	best, bestScore := 0, float32(math.Inf(-1))
	for i, c := range ix.centroids {
		if s := cosine(v, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// Size returns the number of indexed vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// ChunkCount returns the number of stored chunks. Always equals Size after
// any mutation completes.
func (ix *Index) ChunkCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Model returns the embedding model the index's vectors came from.
func (ix *Index) Model() string {
	return ix.cfg.Model
}

// Kind reports the active search structure.
func (ix *Index) Kind() Kind {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.centroids == nil {
		return KindFlat
	}
	return KindIVF
}

func validatePair(chunks []chunker.Chunk, vectors [][]float32, dims int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrIndexInconsistent, len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}

// cosine computes cosine similarity. Zero-norm inputs score 0.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
