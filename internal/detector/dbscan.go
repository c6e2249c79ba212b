package detector

import "math"

// dbscan is a plain density-based clustering over small point sets.
// Returns one label per point; -1 marks noise. Points are visited in
// input order, so labels are deterministic for a fixed input.
func dbscan(points [][]float64, eps float64, minPts int) []int {
	const (
		unvisited = -2
		noise     = -1
	)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}

		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPts {
			labels[i] = noise
			continue
		}

		labels[i] = cluster
		// Expand the cluster through density-reachable points.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			jNeighbors := regionQuery(points, j, eps)
			if len(jNeighbors) >= minPts {
				neighbors = append(neighbors, jNeighbors...)
			}
		}
		cluster++
	}

	return labels
}

// regionQuery returns the indices of all points within eps of points[i],
// including i itself.
func regionQuery(points [][]float64, i int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for k := range a {
		d := a[k] - b[k]
		sum += d * d
	}
	return math.Sqrt(sum)
}
