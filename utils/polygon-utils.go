package utils

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geos"
)

// Coord is a bare X/Y pair in the dataset CRS.
type Coord struct {
	X float64
	Y float64
}

type routineResult struct {
	Result *geos.Geom
	Index  int
}

var PRECISION int = 7

// Decompose flattens a geometry into its polygon parts. Polygons come back as
// a single-element slice, multipolygons and collections as one element per
// polygon member. Parts are clones and must be destroyed by the caller.
// Non-polygon members and empty parts are skipped.
func Decompose(geom *geos.Geom) []*geos.Geom {
	if geom == nil || geom.IsEmpty() {
		return nil
	}

	if geom.TypeID() == 3 {
		return []*geos.Geom{geom.Clone()}
	}

	var parts []*geos.Geom
	for i := range geom.NumGeometries() {
		member := geom.Geometry(i)
		if member.IsEmpty() {
			continue
		}
		if member.TypeID() == 3 {
			parts = append(parts, member.Clone())
			continue
		}
		if member.TypeID() == 6 || member.TypeID() == 7 {
			parts = append(parts, Decompose(member)...)
		}
	}
	return parts
}

// PolygonCentroid computes the area-weighted centroid of a polygon or
// multipolygon. Holes subtract from the weighting. Degenerate geometries with
// no net area fall back to the average of the exterior vertices.
func PolygonCentroid(geom *geos.Geom) (Coord, error) {
	if geom == nil {
		return Coord{}, fmt.Errorf("geometry is nil")
	}

	var sumA, sumX, sumY float64
	var vertices []Coord

	accumulate := func(polygon *geos.Geom) {
		exterior := polygon.ExteriorRing()
		if exterior == nil {
			return
		}
		for i := range exterior.CoordSeq().Size() {
			vertices = append(vertices, Coord{X: exterior.CoordSeq().X(i), Y: exterior.CoordSeq().Y(i)})
		}
		area, cx, cy := ringCentroid(exterior)
		sumA += area
		sumX += cx * area
		sumY += cy * area
		for r := range polygon.NumInteriorRings() {
			area, cx, cy = ringCentroid(polygon.InteriorRing(r))
			sumA -= area
			sumX -= cx * area
			sumY -= cy * area
		}
	}

	if geom.TypeID() == 3 {
		accumulate(geom)
	} else {
		for i := range geom.NumGeometries() {
			member := geom.Geometry(i)
			if member.TypeID() == 3 {
				accumulate(member)
			}
		}
	}

	if math.Abs(sumA) > 1e-12 {
		return Coord{X: sumX / sumA, Y: sumY / sumA}, nil
	}

	if len(vertices) == 0 {
		return Coord{}, fmt.Errorf("geometry has no polygon vertices")
	}
	var avg Coord
	for _, vertex := range vertices {
		avg.X += vertex.X
		avg.Y += vertex.Y
	}
	avg.X /= float64(len(vertices))
	avg.Y /= float64(len(vertices))
	return avg, nil
}

// ringCentroid returns the unsigned area of a linear ring together with its
// centroid. Orientation of the ring does not matter.
func ringCentroid(ring *geos.Geom) (float64, float64, float64) {
	seq := ring.CoordSeq()
	var signed, sx, sy float64
	for i := 0; i < seq.Size()-1; i++ {
		x0, y0 := seq.X(i), seq.Y(i)
		x1, y1 := seq.X(i+1), seq.Y(i+1)
		cross := x0*y1 - x1*y0
		signed += cross
		sx += (x0 + x1) * cross
		sy += (y0 + y1) * cross
	}
	signed /= 2
	if signed == 0 {
		return 0, 0, 0
	}
	return math.Abs(signed), sx / (6 * signed), sy / (6 * signed)
}

// TruncateFullGeometry rounds every coordinate of a polygonal geometry to
// PRECISION decimals. Parts are truncated concurrently and reassembled in
// their original order.
func TruncateFullGeometry(feature *geos.Geom) (*geos.Geom, error) {
	if feature == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	parts := Decompose(feature)
	if len(parts) == 0 {
		return nil, fmt.Errorf("geometry has no polygon parts")
	}

	polygons := make(chan routineResult, len(parts))
	for i, part := range parts {
		go func(polygon *geos.Geom, index int) {
			polygons <- routineResult{Result: TruncateSinglePolygon(polygon), Index: index}
		}(part, i)
	}

	truncated := make([]*geos.Geom, len(parts))
	for range parts {
		res := <-polygons
		truncated[res.Index] = res.Result
	}
	for _, part := range parts {
		part.Destroy()
	}

	var kept []*geos.Geom
	for _, polygon := range truncated {
		if polygon != nil {
			kept = append(kept, polygon)
		}
	}

	if len(kept) == 0 {
		return nil, fmt.Errorf("truncation removed every ring")
	}
	if len(kept) == 1 {
		return kept[0], nil
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, kept), nil
}

func TruncateSinglePolygon(polygon *geos.Geom) *geos.Geom {
	var rings [][][]float64
	var outerRing [][]float64
	if polygon.ExteriorRing() != nil && polygon.ExteriorRing().CoordSeq().Size() > 3 {
		for j := range polygon.ExteriorRing().CoordSeq().Size() {
			x := polygon.ExteriorRing().CoordSeq().X(j)
			y := polygon.ExteriorRing().CoordSeq().Y(j)

			newX, newY := truncateCoordinates(x, y)
			outerRing = append(outerRing, []float64{newX, newY})
		}
		rings = append(rings, outerRing)
		outerRing = nil
		if polygon.NumInteriorRings() > 0 {
			for r := range polygon.NumInteriorRings() {
				var ringCoords [][]float64
				ring := polygon.InteriorRing(r)
				if ring.CoordSeq().Size() > 3 {
					for k := range ring.CoordSeq().Size() {
						x := ring.CoordSeq().X(k)
						y := ring.CoordSeq().Y(k)

						newX, newY := truncateCoordinates(x, y)
						ringCoords = append(ringCoords, []float64{newX, newY})
					}
					testPolygon := geos.NewPolygon([][][]float64{ringCoords})
					if len(ringCoords) > 0 && testPolygon.IsValid() {
						rings = append(rings, ringCoords)
					}
					ringCoords = nil
					testPolygon.Destroy()
				}
			}
		}

		return geos.NewPolygon(rings)
	}

	return nil
}

func truncateCoordinates(x float64, y float64) (float64, float64) {
	return roundFloat(x, uint(PRECISION)), roundFloat(y, uint(PRECISION))
}

func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
