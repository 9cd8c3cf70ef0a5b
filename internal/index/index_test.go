package index

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/chunker"
)

func testChunks(n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("chunk %d", i), SourceID: "src", Position: i}
	}
	return chunks
}

// unitVector returns a dims-length vector pointing mostly along axis.
func unitVector(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis%dims] = 1
	return v
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	results, err := ix.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_KClampedToSize(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
	}
	require.NoError(t, ix.Build(testChunks(3), vectors))

	results, err := ix.Search([]float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3, "k > N must return exactly N results")

	// Ranked by descending similarity.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, 0, results[0].Chunk.Position)
}

func TestSearch_TiesPreserveInsertionOrder(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	same := []float32{1, 0, 0, 0}
	vectors := [][]float32{same, {0, 1, 0, 0}, same, same}
	require.NoError(t, ix.Build(testChunks(4), vectors))

	results, err := ix.Search(same, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 0, results[0].Chunk.Position)
	assert.Equal(t, 2, results[1].Chunk.Position)
	assert.Equal(t, 3, results[2].Chunk.Position)
	assert.Equal(t, 1, results[3].Chunk.Position)
}

func TestAdd_KeepsChunksAndVectorsParallel(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	require.NoError(t, ix.Build(testChunks(2), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, ix.Add(testChunks(1), [][]float32{{0, 0, 1, 0}}))

	assert.Equal(t, 3, ix.Size())
	assert.Equal(t, ix.Size(), ix.ChunkCount())
}

func TestAdd_DimensionMismatchRejected(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	err := ix.Add(testChunks(1), [][]float32{{1, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Size())
}

func TestSaveLoad_SearchEquivalence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")

	ix := New(DefaultConfig(8, "m"), nil)
	rng := rand.New(rand.NewSource(7))
	n := 40
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, 8)
		for d := range v {
			v[d] = rng.Float32()
		}
		vectors[i] = v
	}
	require.NoError(t, ix.Build(testChunks(n/2), vectors[:n/2]))
	require.NoError(t, ix.Add(testChunks(n/2), vectors[n/2:]))
	require.NoError(t, ix.Save(path))

	loaded := New(DefaultConfig(8, "m"), nil)
	require.NoError(t, loaded.Load(path))
	require.Equal(t, ix.Size(), loaded.Size())

	query := unitVector(8, 3)
	want, err := ix.Search(query, 10)
	require.NoError(t, err)
	got, err := loaded.Search(query, 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	require.NoError(t, ix.Load(filepath.Join(t.TempDir(), "nope.gob")))
	assert.Equal(t, 0, ix.Size())
}

func TestLoad_DimensionMismatchFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	ix := New(DefaultConfig(4, "m"), nil)
	require.NoError(t, ix.Build(testChunks(1), [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, ix.Save(path))

	other := New(DefaultConfig(8, "m"), nil)
	assert.ErrorIs(t, other.Load(path), ErrDimensionMismatch)
}

func TestLoad_ModelMismatchFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	ix := New(DefaultConfig(4, "model-a"), nil)
	require.NoError(t, ix.Build(testChunks(1), [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, ix.Save(path))

	other := New(DefaultConfig(4, "model-b"), nil)
	assert.ErrorIs(t, other.Load(path), ErrModelMismatch)
}

func TestClusteredSearch_FindsNearestNeighbors(t *testing.T) {
	cfg := DefaultConfig(8, "m")
	cfg.ApproxThreshold = 64 // force the clustered structure
	ix := New(cfg, nil)

	rng := rand.New(rand.NewSource(42))
	n := 400
	chunks := make([]chunker.Chunk, n)
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, 8)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		vectors[i] = v
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("chunk %d", i), SourceID: "src", Position: i}
	}
	// Plant a clump of near-duplicates so one cluster forms around them;
	// its centroid must win the probe and surface the exact match first.
	target := []float32{1, 1, 0, 0, 0, 0, 0, 0}
	for i := 120; i < 140; i++ {
		v := append([]float32(nil), target...)
		v[2] = rng.Float32() * 0.01
		vectors[i] = v
	}
	vectors[123] = append([]float32(nil), target...)

	require.NoError(t, ix.Build(chunks, vectors))
	require.Equal(t, KindIVF, ix.Kind())

	results, err := ix.Search(target, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 123, results[0].Chunk.Position)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestClusteredAdd_NewVectorsSearchable(t *testing.T) {
	cfg := DefaultConfig(4, "m")
	cfg.ApproxThreshold = 16
	ix := New(cfg, nil)

	rng := rand.New(rand.NewSource(3))
	n := 64
	chunks := make([]chunker.Chunk, n)
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, 4)
		for d := range v {
			v[d] = rng.Float32()
		}
		vectors[i] = v
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("chunk %d", i), SourceID: "src", Position: i}
	}
	require.NoError(t, ix.Build(chunks, vectors))
	require.Equal(t, KindIVF, ix.Kind())

	// Incremental insert of a distinctive vector, no rebuild.
	odd := []float32{-1, -1, -1, -1}
	require.NoError(t, ix.Add(
		[]chunker.Chunk{{Text: "odd one out", SourceID: "late", Position: 0}},
		[][]float32{odd},
	))

	results, err := ix.Search(odd, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "odd one out", results[0].Chunk.Text)
}

func TestIndex_ConcurrentSearchAndMutate(t *testing.T) {
	cfg := DefaultConfig(8, "m")
	cfg.ApproxThreshold = 32
	ix := New(cfg, nil)

	rng := rand.New(rand.NewSource(11))
	seed := make([][]float32, 64)
	chunks := make([]chunker.Chunk, 64)
	for i := range seed {
		v := make([]float32, 8)
		for d := range v {
			v[d] = rng.Float32()
		}
		seed[i] = v
		chunks[i] = chunker.Chunk{Text: fmt.Sprintf("chunk %d", i), SourceID: "seed", Position: i}
	}
	require.NoError(t, ix.Build(chunks, seed))

	var readers, writers sync.WaitGroup
	stop := make(chan struct{})

	// Readers hammer Search while writers add and remove sources. Run with
	// -race; readers must only ever observe committed state.
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func(r int) {
			defer readers.Done()
			query := unitVector(8, r)
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := ix.Search(query, 5)
				assert.NoError(t, err)
				for _, res := range results {
					assert.NotEmpty(t, res.Chunk.Text)
				}
			}
		}(r)
	}

	for w := 0; w < 2; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			source := fmt.Sprintf("writer-%d", w)
			for i := 0; i < 50; i++ {
				err := ix.Add(
					[]chunker.Chunk{{Text: "late", SourceID: source, Position: i}},
					[][]float32{unitVector(8, i)},
				)
				assert.NoError(t, err)
				if i%10 == 9 {
					ix.RemoveSource(source)
				}
			}
		}(w)
	}

	writers.Wait()
	close(stop)
	readers.Wait()
	assert.Equal(t, ix.Size(), ix.ChunkCount())
}

func TestRemoveSource_SupersedesWholesale(t *testing.T) {
	ix := New(DefaultConfig(4, "m"), nil)
	a := []chunker.Chunk{
		{Text: "a0", SourceID: "a", Position: 0},
		{Text: "a1", SourceID: "a", Position: 1},
	}
	b := []chunker.Chunk{{Text: "b0", SourceID: "b", Position: 0}}
	require.NoError(t, ix.Build(append(a, b...), [][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
	}))

	removed := ix.RemoveSource("a")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, ix.Size())

	results, err := ix.Search([]float32{0, 0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b0", results[0].Chunk.Text)
}
