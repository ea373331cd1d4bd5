package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Noise is the label DBSCAN assigns to points that belong to no cluster.
const Noise = -1

// DBSCANConfig holds density clustering configuration
type DBSCANConfig struct {
	Eps    float64 // Neighborhood radius (default: 0.5)
	MinPts int     // Core point threshold, including self (default: 5)
}

// DefaultDBSCANConfig returns the default density clustering configuration
func DefaultDBSCANConfig() DBSCANConfig {
	return DBSCANConfig{
		Eps:    0.5,
		MinPts: 5,
	}
}

// Validate checks if the configuration has valid values
func (c DBSCANConfig) Validate() error {
	if c.Eps <= 0 {
		return fmt.Errorf("eps must be positive (got %v)", c.Eps)
	}
	if c.MinPts < 1 {
		return fmt.Errorf("min_pts must be at least 1 (got %d)", c.MinPts)
	}
	return nil
}

// DBSCAN labels each point with a cluster index starting at 0, or Noise.
// A point is a core point when at least MinPts points (itself included)
// lie within Eps of it; clusters grow from core points through their
// neighborhoods. The labeling is deterministic for a given input order.
func DBSCAN(points [][]float64, cfg DBSCANConfig) ([]int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dbscan config: %w", err)
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, len(points))

	nextCluster := 0
	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, cfg.Eps)
		if len(neighbors) < cfg.MinPts {
			continue
		}

		labels[i] = nextCluster
		// Expand by breadth-first walk over density-reachable points.
		queue := neighbors
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if !visited[j] {
				visited[j] = true
				jn := regionQuery(points, j, cfg.Eps)
				if len(jn) >= cfg.MinPts {
					queue = append(queue, jn...)
				}
			}
			if labels[j] == Noise {
				labels[j] = nextCluster
			}
		}
		nextCluster++
	}

	return labels, nil
}

// regionQuery returns the indices of all points within eps of points[i],
// including i itself.
func regionQuery(points [][]float64, i int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if floats.Distance(points[i], points[j], 2) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
