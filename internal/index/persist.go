package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quarrylabs/quarry/internal/chunker"
)

// snapshot is the on-disk form of the index. Structure and chunk list live
// in one artifact so a crash can never leave them desynchronized: either
// the rename commits the whole pair or the prior file survives intact.
type snapshot struct {
	Dimensions int
	Model      string
	Chunks     []chunker.Chunk
	Vectors    [][]float32
	Centroids  [][]float32
	Clusters   [][]int
}

// Save serializes the index and its chunk list to path atomically
// (temp file + rename).
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	snap := snapshot{
		Dimensions: ix.cfg.Dimensions,
		Model:      ix.cfg.Model,
		Chunks:     ix.chunks,
		Vectors:    ix.vectors,
		Centroids:  ix.centroids,
		Clusters:   ix.clusters,
	}
	ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load replaces the index contents from a snapshot. It fails fast, not
// silently empty: a snapshot whose chunk list and vector list disagree in
// length returns ErrIndexInconsistent, and one built by a different
// embedding model or dimension returns ErrModelMismatch /
// ErrDimensionMismatch. A missing file is not an error; the index simply
// starts empty.
func (ix *Index) Load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("%w: decode snapshot: %v", ErrIndexInconsistent, err)
	}

	if len(snap.Chunks) != len(snap.Vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors",
			ErrIndexInconsistent, len(snap.Chunks), len(snap.Vectors))
	}
	if snap.Dimensions != ix.cfg.Dimensions {
		return fmt.Errorf("%w: snapshot has %d dimensions, configured %d",
			ErrDimensionMismatch, snap.Dimensions, ix.cfg.Dimensions)
	}
	if snap.Model != "" && ix.cfg.Model != "" && snap.Model != ix.cfg.Model {
		return fmt.Errorf("%w: snapshot built with %q, configured %q",
			ErrModelMismatch, snap.Model, ix.cfg.Model)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chunks = snap.Chunks
	ix.vectors = snap.Vectors
	ix.centroids = snap.Centroids
	ix.clusters = snap.Clusters
	// A snapshot taken before the corpus crossed the threshold stays flat
	// until it is loaded; retrain so the structure matches the size.
	if ix.centroids == nil && len(ix.vectors) >= ix.cfg.ApproxThreshold {
		ix.retrainLocked()
	}
	return nil
}
