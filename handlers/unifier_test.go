package handlers

import (
	"math"
	"testing"

	"github.com/twpayne/go-geos"
)

func TestUnify_NoPieces(t *testing.T) {
	result, err := Unify(nil, nil, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != UnifyNoPieces {
		t.Fatalf("status = %v, want %v", result.Status, UnifyNoPieces)
	}
	if result.Geometry != nil {
		t.Fatal("expected nil geometry for zero pieces")
	}
	if len(result.Corridors) != 0 {
		t.Fatalf("got %d corridors, want 0", len(result.Corridors))
	}
}

func TestUnify_SinglePieceUnchanged(t *testing.T) {
	square := newTestSquare(t, 2, 3, 4)
	defer square.Destroy()

	result, err := Unify([]*geos.Geom{square}, nil, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer result.Geometry.Destroy()

	if result.Status != UnifySinglePiece {
		t.Fatalf("status = %v, want %v", result.Status, UnifySinglePiece)
	}
	if got, want := result.Geometry.Area(), square.Area(); got != want {
		t.Fatalf("area = %v, want %v", got, want)
	}
	if len(result.Corridors) != 0 {
		t.Fatalf("got %d corridors, want 0", len(result.Corridors))
	}
	// input must survive
	if !square.IsValid() {
		t.Fatal("input piece was consumed")
	}
}

func TestUnify_TwoPiecesOneCorridor(t *testing.T) {
	reference := newTestSquare(t, 0, 0, 10)
	defer reference.Destroy()

	pieces := []*geos.Geom{
		newTestSquare(t, 0, 0, 2),
		newTestSquare(t, 8, 8, 2),
	}
	defer destroyAll(pieces)

	sumAreas := pieces[0].Area() + pieces[1].Area()

	result, err := Unify(pieces, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer result.Geometry.Destroy()
	defer destroyAll(result.Corridors)

	if result.Status != UnifyPrimaryUnion {
		t.Fatalf("status = %v, want %v", result.Status, UnifyPrimaryUnion)
	}
	if len(result.Corridors) != 1 {
		t.Fatalf("got %d corridors, want 1", len(result.Corridors))
	}
	if result.Geometry.TypeID() != 3 {
		t.Fatalf("result type = %d, want a single connected polygon", result.Geometry.TypeID())
	}
	if got := result.Geometry.Area(); got <= sumAreas {
		t.Fatalf("area %v did not grow beyond the pieces (%v)", got, sumAreas)
	}
}

func TestUnify_CorridorFollowsCentroids(t *testing.T) {
	reference := newTestSquare(t, 0, 0, 10)
	defer reference.Destroy()

	pieces := []*geos.Geom{
		newTestSquare(t, 0, 0, 2),
		newTestSquare(t, 8, 8, 2),
	}
	defer destroyAll(pieces)

	result, err := Unify(pieces, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer result.Geometry.Destroy()
	defer destroyAll(result.Corridors)

	// the corridor buffers the (1,1)-(9,9) segment, so its midpoint (5,5)
	// must be inside the unified geometry
	probe := newTestSquare(t, 4.9, 4.9, 0.2)
	defer probe.Destroy()

	overlap := result.Geometry.Intersection(probe)
	defer overlap.Destroy()
	if overlap.IsEmpty() {
		t.Fatal("corridor does not pass through the segment midpoint")
	}

	corridor := result.Corridors[0]
	centroidStart := geos.NewPoint([]float64{1, 1})
	centroidEnd := geos.NewPoint([]float64{9, 9})
	defer centroidStart.Destroy()
	defer centroidEnd.Destroy()
	if !centroidStart.Within(corridor) || !centroidEnd.Within(corridor) {
		t.Fatal("corridor does not cover both centroids")
	}
}

func TestUnify_MultipartPiecesDecomposed(t *testing.T) {
	reference := newTestSquare(t, 0, 0, 20)
	defer reference.Destroy()

	multi := geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{
		newTestSquare(t, 0, 0, 1),
		newTestSquare(t, 4, 0, 1),
	})
	pieces := []*geos.Geom{
		multi,
		newTestSquare(t, 8, 0, 1),
	}
	defer destroyAll(pieces)

	result, err := Unify(pieces, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer result.Geometry.Destroy()
	defer destroyAll(result.Corridors)

	// three parts after decomposition, so two consecutive corridors
	if len(result.Corridors) != 2 {
		t.Fatalf("got %d corridors, want 2", len(result.Corridors))
	}
	if result.Geometry.TypeID() != 3 {
		t.Fatalf("result type = %d, want a single connected polygon", result.Geometry.TypeID())
	}
}

func TestUnify_GateDropsOffRegionCorridors(t *testing.T) {
	// reference far away from both pieces: the connecting segment is neither
	// within nor intersecting it, so no corridor is built
	reference := newTestSquare(t, 100, 100, 5)
	defer reference.Destroy()

	pieces := []*geos.Geom{
		newTestSquare(t, 0, 0, 2),
		newTestSquare(t, 8, 8, 2),
	}
	defer destroyAll(pieces)

	result, err := Unify(pieces, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer result.Geometry.Destroy()
	defer destroyAll(result.Corridors)

	if len(result.Corridors) != 0 {
		t.Fatalf("got %d corridors, want 0", len(result.Corridors))
	}
	if result.Status != UnifyPrimaryUnion {
		t.Fatalf("status = %v, want %v", result.Status, UnifyPrimaryUnion)
	}
	if result.Geometry.NumGeometries() != 2 {
		t.Fatalf("got %d members, want the two pieces kept apart", result.Geometry.NumGeometries())
	}
}

func TestUnify_Idempotent(t *testing.T) {
	reference := newTestSquare(t, 0, 0, 10)
	defer reference.Destroy()

	pieces := []*geos.Geom{
		newTestSquare(t, 0, 0, 2),
		newTestSquare(t, 8, 8, 2),
	}
	defer destroyAll(pieces)

	first, err := Unify(pieces, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Geometry.Destroy()
	defer destroyAll(first.Corridors)

	second, err := Unify([]*geos.Geom{first.Geometry}, reference, DefaultUnifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Geometry.Destroy()

	if second.Status != UnifySinglePiece {
		t.Fatalf("status = %v, want %v", second.Status, UnifySinglePiece)
	}
	if math.Abs(second.Geometry.Area()-first.Geometry.Area()) > 1e-9 {
		t.Fatalf("area changed on second pass: %v != %v", second.Geometry.Area(), first.Geometry.Area())
	}
}

func TestUnify_CustomCorridorWidth(t *testing.T) {
	reference := newTestSquare(t, 0, 0, 10)
	defer reference.Destroy()

	pieces := []*geos.Geom{
		newTestSquare(t, 0, 4, 1),
		newTestSquare(t, 9, 4, 1),
	}
	defer destroyAll(pieces)

	narrow := DefaultUnifyOptions()
	narrow.CorridorWidth = 0.25
	narrowResult, err := Unify(pieces, reference, narrow)
	if err != nil {
		t.Fatal(err)
	}
	defer narrowResult.Geometry.Destroy()
	defer destroyAll(narrowResult.Corridors)

	wide := DefaultUnifyOptions()
	wide.CorridorWidth = 2
	wideResult, err := Unify(pieces, reference, wide)
	if err != nil {
		t.Fatal(err)
	}
	defer wideResult.Geometry.Destroy()
	defer destroyAll(wideResult.Corridors)

	if narrowResult.Geometry.Area() >= wideResult.Geometry.Area() {
		t.Fatalf("narrow corridor area %v should be below wide corridor area %v",
			narrowResult.Geometry.Area(), wideResult.Geometry.Area())
	}
}

func TestCascadedUnion_MergesOverlappingSquares(t *testing.T) {
	geoms := []*geos.Geom{
		newTestSquare(t, 0, 0, 2),
		newTestSquare(t, 1, 0, 2),
		newTestSquare(t, 2, 0, 2),
	}

	union, err := CascadedUnion(geoms)
	if err != nil {
		t.Fatal(err)
	}
	defer union.Destroy()

	// 0..4 by 0..2
	if got := union.Area(); math.Abs(got-8) > 1e-9 {
		t.Fatalf("area = %v, want 8", got)
	}
}

func TestCascadedUnion_Empty(t *testing.T) {
	if _, err := CascadedUnion(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestUnifyStatus_String(t *testing.T) {
	cases := map[UnifyStatus]string{
		UnifyNoPieces:       "no-pieces",
		UnifySinglePiece:    "single-piece",
		UnifyPrimaryUnion:   "unified",
		UnifyPartsOnlyUnion: "parts-only",
		UnifyFailed:         "failed",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
}
