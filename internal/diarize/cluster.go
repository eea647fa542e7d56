// Package diarize groups voice embeddings into speaker clusters.
package diarize

import (
	"math"
	"sort"
)

// normEpsilon floors the L2 norm so zero vectors do not divide by zero.
const normEpsilon = 1e-10

// Cluster groups embeddings into at most k speaker clusters using
// average-linkage agglomerative clustering on cosine distance. Labels are
// 0-based and re-indexed by order of first appearance, so identical input
// always yields identical output.
func Cluster(embeddings [][]float64, k int) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	unit := make([][]float64, n)
	for i, e := range embeddings {
		unit[i] = normalize(e)
	}

	// Pairwise cosine distances between segments
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := cosineDistance(unit[i], unit[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	// Each segment starts in its own cluster; repeatedly merge the closest
	// pair under average linkage. Ties break on the lowest index pair,
	// which keeps the result deterministic.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for len(clusters) > k {
		bestI, bestJ := 0, 1
		bestDist := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := averageLinkage(clusters[i], clusters[j], dist)
				if d < bestDist {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}
		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	// Re-index clusters by their earliest member so the first speaker heard
	// is always cluster 0
	sort.Slice(clusters, func(a, b int) bool {
		return minMember(clusters[a]) < minMember(clusters[b])
	})

	labels := make([]int, n)
	for label, members := range clusters {
		for _, m := range members {
			labels[m] = label
		}
	}
	return labels
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < normEpsilon {
		norm = normEpsilon
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// cosineDistance assumes unit-normalized inputs
func cosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func averageLinkage(a, b []int, dist [][]float64) float64 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}

func minMember(members []int) int {
	min := members[0]
	for _, m := range members[1:] {
		if m < min {
			min = m
		}
	}
	return min
}
