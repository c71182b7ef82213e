package patterns

import "sort"

// cluster groups member indexes around a centroid vector.
type cluster struct {
	Members  []int
	Centroid []float32
	// Cohesion is the mean cosine similarity of members to the centroid.
	Cohesion float64
}

const kmeansIterations = 25

// kmeansCluster partitions vectors into k clusters with Lloyd's algorithm.
// Initial centroids are evenly spaced over the input so clustering is
// deterministic for a given input order.
func kmeansCluster(vectors [][]float32, k int) []cluster {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		centroids[i] = copyVector(vectors[i*n/k])
	}

	assignments := make([]int, n)
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}

		// Recompute centroids as member means.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, len(vectors[0]))
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}

		if !changed {
			break
		}
	}

	clusters := make([]cluster, k)
	for c := 0; c < k; c++ {
		clusters[c].Centroid = centroids[c]
	}
	for i := range vectors {
		c := assignments[i]
		clusters[c].Members = append(clusters[c].Members, i)
	}

	out := make([]cluster, 0, k)
	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		var total float64
		for _, m := range c.Members {
			total += float64(CosineSimilarity(vectors[m], c.Centroid))
		}
		c.Cohesion = total / float64(len(c.Members))
		out = append(out, c)
	}

	// Largest clusters first so pattern candidates come out in a stable,
	// evidence-weighted order.
	sort.Slice(out, func(i, j int) bool {
		return len(out[i].Members) > len(out[j].Members)
	})
	return out
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestSim := float32(-2)
	for i, c := range centroids {
		sim := CosineSimilarity(v, c)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	return best
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// meanVector averages the member vectors of a cluster. The result is the
// embedding persisted with a synthesized pattern.
func meanVector(vectors [][]float32, members []int) []float32 {
	if len(members) == 0 || len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[members[0]])
	sum := make([]float64, dim)
	for _, m := range members {
		for d, x := range vectors[m] {
			sum[d] += float64(x)
		}
	}
	out := make([]float32, dim)
	for d := range out {
		out[d] = float32(sum[d] / float64(len(members)))
	}
	return out
}
