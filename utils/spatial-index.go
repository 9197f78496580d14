package utils

import (
	"log"
	"math"

	"github.com/twpayne/go-geos"
)

// SpatialIndex is a uniform grid over geometry bounding boxes. It answers
// coarse "what could be near this?" queries; callers follow up with real
// GEOS predicates on the survivors.
type SpatialIndex struct {
	cellSize float64
	entries  []IndexedGeometry
	grid     map[cellKey][]int
}

// IndexedGeometry is one indexed entry: the caller's position for the
// geometry plus the attribute row that travels with it.
type IndexedGeometry struct {
	Geom       *geos.Geom
	Index      int
	Properties map[string]interface{}
}

type cellKey struct {
	x, y int
}

func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		cellSize: cellSize,
		grid:     make(map[cellKey][]int),
	}
}

// AddGeometry registers a geometry under the caller's index. Nil geometries
// and geometries without bounds are skipped.
func (si *SpatialIndex) AddGeometry(geom *geos.Geom, index int, properties map[string]interface{}) {
	if geom == nil {
		log.Printf("Spatial index: skipping nil geometry at index %d", index)
		return
	}
	bounds := geom.Bounds()
	if bounds == nil {
		log.Printf("Spatial index: skipping geometry without bounds at index %d", index)
		return
	}

	offset := len(si.entries)
	si.entries = append(si.entries, IndexedGeometry{Geom: geom, Index: index, Properties: properties})

	minX, minY, maxX, maxY := si.cellRange(bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			key := cellKey{x, y}
			si.grid[key] = append(si.grid[key], offset)
		}
	}
}

// CandidateIndexes returns the caller indexes of every entry sharing a grid
// cell with the bounding box of geom. Coarse by design: callers still need a
// real intersection test, but records far outside the box never reach GEOS.
func (si *SpatialIndex) CandidateIndexes(geom *geos.Geom) map[int]bool {
	candidates := make(map[int]bool)
	if geom == nil {
		return candidates
	}
	bounds := geom.Bounds()
	if bounds == nil {
		return candidates
	}

	for _, offset := range si.offsetsInBox(bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY) {
		candidates[si.entries[offset].Index] = true
	}
	return candidates
}

// FindNeighbors returns every entry within distance of geom, excluding geom
// itself when it is indexed. The grid narrows the search to cells inside the
// query box grown by distance; survivors are confirmed with an exact
// distance test.
func (si *SpatialIndex) FindNeighbors(geom *geos.Geom, distance float64) []*IndexedGeometry {
	neighbors := make([]*IndexedGeometry, 0)
	if geom == nil {
		return neighbors
	}
	bounds := geom.Bounds()
	if bounds == nil {
		return neighbors
	}

	offsets := si.offsetsInBox(bounds.MinX-distance, bounds.MinY-distance, bounds.MaxX+distance, bounds.MaxY+distance)
	for _, offset := range offsets {
		entry := &si.entries[offset]
		if entry.Geom == geom {
			continue
		}
		if geom.Distance(entry.Geom) <= distance {
			neighbors = append(neighbors, entry)
		}
	}
	return neighbors
}

// offsetsInBox collects the entry offsets of every grid cell the box
// covers, deduplicated.
func (si *SpatialIndex) offsetsInBox(minX, minY, maxX, maxY float64) []int {
	cellMinX, cellMinY, cellMaxX, cellMaxY := si.cellRange(minX, minY, maxX, maxY)

	seen := make(map[int]bool)
	var offsets []int
	for x := cellMinX; x <= cellMaxX; x++ {
		for y := cellMinY; y <= cellMaxY; y++ {
			for _, offset := range si.grid[cellKey{x, y}] {
				if !seen[offset] {
					seen[offset] = true
					offsets = append(offsets, offset)
				}
			}
		}
	}
	return offsets
}

func (si *SpatialIndex) cellRange(minX, minY, maxX, maxY float64) (int, int, int, int) {
	return int(math.Floor(minX / si.cellSize)),
		int(math.Floor(minY / si.cellSize)),
		int(math.Floor(maxX / si.cellSize)),
		int(math.Floor(maxY / si.cellSize))
}

// CalculateWGS84ToleranceFromMeters converts a distance in meters to WGS84
// degrees, using roughly 111 km per degree at the equator.
func CalculateWGS84ToleranceFromMeters(meters float64) float64 {
	const metersPerDegree = 111000.0
	return meters / metersPerDegree
}
