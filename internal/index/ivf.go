package index

import "math"

const (
	maxClusters     = 256
	kmeansRounds    = 10
	minClusterRatio = 16 // target at least this many vectors per cluster
)

// train runs a deterministic k-means over the vectors and returns centroids
// plus the per-cluster offset lists. Determinism matters: rebuilding from
// the same vectors must reproduce the same structure for save/load tests.
func train(vectors [][]float32, dims int) ([][]float32, [][]int) {
	n := len(vectors)
	k := clusterCount(n)

	// Seed centroids from evenly spaced vectors rather than random picks.
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		src := vectors[i*n/k]
		centroids[i] = append([]float32(nil), src...)
	}

	assignment := make([]int, n)
	for round := 0; round < kmeansRounds; round++ {
		changed := false
		for i, v := range vectors {
			best, bestScore := 0, float32(math.Inf(-1))
			for c, centroid := range centroids {
				if s := cosine(v, centroid); s > bestScore {
					best, bestScore = c, s
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && round > 0 {
			break
		}

		// Recompute centroids as member means; empty clusters keep their
		// previous centroid.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dims)
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dims; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}

	clusters := make([][]int, k)
	for i, c := range assignment {
		clusters[c] = append(clusters[c], i)
	}
	return centroids, clusters
}

// clusterCount sizes the cluster set near sqrt(n), bounded so small corpora
// keep enough members per cluster and huge ones stay capped.
func clusterCount(n int) int {
	k := int(math.Sqrt(float64(n)))
	if k*minClusterRatio > n {
		k = n / minClusterRatio
	}
	if k < 1 {
		k = 1
	}
	if k > maxClusters {
		k = maxClusters
	}
	return k
}
