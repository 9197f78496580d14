package handlers

import (
	"fmt"
	"math"
	"sort"

	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/twpayne/go-geos"
)

// OrderStrategy decides the sequence detached coverage pieces are chained in.
// Order returns a permutation of part indexes; corridors are drawn between
// consecutive entries of that permutation.
type OrderStrategy interface {
	Name() string
	Order(parts []*geos.Geom, centroids []utils.Coord) []int
}

// CentroidXOrder walks pieces west to east. Ties on X fall back to Y, then to
// the original index, so the permutation is deterministic for any input.
type CentroidXOrder struct{}

func (CentroidXOrder) Name() string { return "centroid-x" }

func (CentroidXOrder) Order(parts []*geos.Geom, centroids []utils.Coord) []int {
	order := make([]int, len(centroids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := centroids[order[a]], centroids[order[b]]
		if ca.X != cb.X {
			return ca.X < cb.X
		}
		return ca.Y < cb.Y
	})
	return order
}

// NearestNeighborOrder starts at the westernmost piece and greedily hops to
// the closest unvisited centroid. Produces shorter corridor chains than
// CentroidXOrder when pieces are scattered rather than strung out.
type NearestNeighborOrder struct{}

func (NearestNeighborOrder) Name() string { return "nearest-neighbor" }

func (NearestNeighborOrder) Order(parts []*geos.Geom, centroids []utils.Coord) []int {
	if len(centroids) == 0 {
		return []int{}
	}

	start := 0
	for i := 1; i < len(centroids); i++ {
		if centroids[i].X < centroids[start].X ||
			(centroids[i].X == centroids[start].X && centroids[i].Y < centroids[start].Y) {
			start = i
		}
	}

	visited := make([]bool, len(centroids))
	order := make([]int, 0, len(centroids))
	current := start
	visited[current] = true
	order = append(order, current)

	for len(order) < len(centroids) {
		next := -1
		best := math.MaxFloat64
		for i := range centroids {
			if visited[i] {
				continue
			}
			d := squaredDistance(centroids[current], centroids[i])
			if d < best {
				best = d
				next = i
			}
		}
		visited[next] = true
		order = append(order, next)
		current = next
	}
	return order
}

func squaredDistance(a, b utils.Coord) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// OrderStrategyByName resolves a strategy from configuration.
func OrderStrategyByName(name string) (OrderStrategy, error) {
	switch name {
	case "", "centroid-x":
		return CentroidXOrder{}, nil
	case "nearest-neighbor":
		return NearestNeighborOrder{}, nil
	}
	return nil, fmt.Errorf("unknown order strategy %q", name)
}
