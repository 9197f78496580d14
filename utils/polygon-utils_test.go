package utils

import (
	"math"
	"testing"

	"github.com/twpayne/go-geos"
)

func squareCoords(minX, minY, size float64) [][]float64 {
	return [][]float64{
		{minX, minY},
		{minX + size, minY},
		{minX + size, minY + size},
		{minX, minY + size},
		{minX, minY},
	}
}

func newSquare(t *testing.T, minX, minY, size float64) *geos.Geom {
	t.Helper()
	polygon := geos.NewPolygon([][][]float64{squareCoords(minX, minY, size)})
	if polygon == nil || !polygon.IsValid() {
		t.Fatalf("failed to build square at (%v,%v)", minX, minY)
	}
	return polygon
}

func TestDecompose_SinglePolygon(t *testing.T) {
	square := newSquare(t, 0, 0, 1)
	defer square.Destroy()

	parts := Decompose(square)
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	for _, part := range parts {
		part.Destroy()
	}
}

func TestDecompose_MultiPolygon(t *testing.T) {
	multi := geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{
		newSquare(t, 0, 0, 1),
		newSquare(t, 5, 5, 1),
		newSquare(t, 10, 0, 1),
	})
	defer multi.Destroy()

	parts := Decompose(multi)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	for _, part := range parts {
		if part.TypeID() != 3 {
			t.Errorf("part type = %d, want polygon", part.TypeID())
		}
		part.Destroy()
	}
}

func TestDecompose_Nil(t *testing.T) {
	if parts := Decompose(nil); parts != nil {
		t.Fatalf("got %d parts from nil geometry", len(parts))
	}
}

func TestPolygonCentroid_Square(t *testing.T) {
	square := newSquare(t, 0, 0, 2)
	defer square.Destroy()

	centroid, err := PolygonCentroid(square)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(centroid.X-1) > 1e-9 || math.Abs(centroid.Y-1) > 1e-9 {
		t.Fatalf("centroid = (%v,%v), want (1,1)", centroid.X, centroid.Y)
	}
}

func TestPolygonCentroid_HoleShiftsCentroid(t *testing.T) {
	polygon := geos.NewPolygon([][][]float64{
		squareCoords(0, 0, 10),
		squareCoords(1, 1, 2),
	})
	defer polygon.Destroy()

	centroid, err := PolygonCentroid(polygon)
	if err != nil {
		t.Fatal(err)
	}
	// exterior 100 @ (5,5) minus hole 4 @ (2,2)
	want := (100*5.0 - 4*2.0) / 96.0
	if math.Abs(centroid.X-want) > 1e-9 || math.Abs(centroid.Y-want) > 1e-9 {
		t.Fatalf("centroid = (%v,%v), want (%v,%v)", centroid.X, centroid.Y, want, want)
	}
}

func TestPolygonCentroid_MultiPolygon(t *testing.T) {
	multi := geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{
		newSquare(t, 0, 0, 1),
		newSquare(t, 8, 8, 1),
	})
	defer multi.Destroy()

	centroid, err := PolygonCentroid(multi)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(centroid.X-4.5) > 1e-9 || math.Abs(centroid.Y-4.5) > 1e-9 {
		t.Fatalf("centroid = (%v,%v), want (4.5,4.5)", centroid.X, centroid.Y)
	}
}

func TestTruncateFullGeometry_RoundsCoordinates(t *testing.T) {
	polygon := geos.NewPolygon([][][]float64{{
		{0.123456789, 0},
		{1.000000004, 0},
		{1, 1.999999996},
		{0, 1},
		{0.123456789, 0},
	}})
	defer polygon.Destroy()

	truncated, err := TruncateFullGeometry(polygon)
	if err != nil {
		t.Fatal(err)
	}
	defer truncated.Destroy()

	seq := truncated.ExteriorRing().CoordSeq()
	if got := seq.X(0); got != 0.1234568 {
		t.Errorf("X(0) = %v, want 0.1234568", got)
	}
	if got := seq.Y(2); got != 2 {
		t.Errorf("Y(2) = %v, want 2", got)
	}
}

func TestTruncateFullGeometry_KeepsPartCount(t *testing.T) {
	multi := geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{
		newSquare(t, 0, 0, 1),
		newSquare(t, 4, 4, 1),
	})
	defer multi.Destroy()

	truncated, err := TruncateFullGeometry(multi)
	if err != nil {
		t.Fatal(err)
	}
	defer truncated.Destroy()

	if truncated.NumGeometries() != 2 {
		t.Fatalf("got %d parts, want 2", truncated.NumGeometries())
	}
}
