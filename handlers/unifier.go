package handlers

import (
	"errors"
	"fmt"
	"log"

	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/twpayne/go-geos"
)

// DefaultCorridorWidth is the buffer distance, in dataset CRS units, applied
// to each centroid-to-centroid segment when building a corridor.
const DefaultCorridorWidth = 1.0

const corridorQuadSegs = 8

// ErrUnificationFailed reports that both the corridor union and the
// parts-only fallback union failed.
var ErrUnificationFailed = errors.New("unification failed")

type UnifyStatus int

const (
	UnifyNoPieces UnifyStatus = iota
	UnifySinglePiece
	UnifyPrimaryUnion
	UnifyPartsOnlyUnion
	UnifyFailed
)

func (s UnifyStatus) String() string {
	switch s {
	case UnifyNoPieces:
		return "no-pieces"
	case UnifySinglePiece:
		return "single-piece"
	case UnifyPrimaryUnion:
		return "unified"
	case UnifyPartsOnlyUnion:
		return "parts-only"
	case UnifyFailed:
		return "failed"
	}
	return "unknown"
}

type UnifyOptions struct {
	CorridorWidth float64
	Order         OrderStrategy
}

func DefaultUnifyOptions() UnifyOptions {
	return UnifyOptions{
		CorridorWidth: DefaultCorridorWidth,
		Order:         CentroidXOrder{},
	}
}

// UnifyResult carries the merged geometry alongside the corridors that were
// built for it. Corridors are kept even when the fallback union ignored
// them, so callers can still render what was attempted.
type UnifyResult struct {
	Geometry  *geos.Geom
	Corridors []*geos.Geom
	Status    UnifyStatus
}

// Unify merges detached coverage pieces into one geometry. Multipart pieces
// are decomposed into their polygon members, the members are ordered by the
// configured strategy, and a buffered corridor is drawn between each
// consecutive pair whose connecting segment stays on the reference region.
// The union of members plus corridors is the primary result; if that union
// fails, the members alone are unioned; if that fails too the run is
// reported as failed.
//
// Input pieces are never consumed. The returned geometry and corridors are
// owned by the caller.
func Unify(pieces []*geos.Geom, reference *geos.Geom, opts UnifyOptions) (*UnifyResult, error) {
	if opts.CorridorWidth <= 0 {
		opts.CorridorWidth = DefaultCorridorWidth
	}
	if opts.Order == nil {
		opts.Order = CentroidXOrder{}
	}

	if len(pieces) == 0 {
		return &UnifyResult{Status: UnifyNoPieces, Corridors: []*geos.Geom{}}, nil
	}
	if len(pieces) == 1 {
		return &UnifyResult{
			Geometry:  pieces[0].Clone(),
			Corridors: []*geos.Geom{},
			Status:    UnifySinglePiece,
		}, nil
	}

	var decomposed []*geos.Geom
	for _, piece := range pieces {
		decomposed = append(decomposed, utils.Decompose(piece)...)
	}

	centroids := make([]utils.Coord, 0, len(decomposed))
	parts := make([]*geos.Geom, 0, len(decomposed))
	for i, part := range decomposed {
		centroid, err := utils.PolygonCentroid(part)
		if err != nil {
			log.Printf("Dropping degenerate part %d: %v", i, err)
			part.Destroy()
			continue
		}
		centroids = append(centroids, centroid)
		parts = append(parts, part)
	}
	defer destroyGeoms(parts)

	if len(parts) == 0 {
		return &UnifyResult{Status: UnifyNoPieces, Corridors: []*geos.Geom{}}, nil
	}

	order := opts.Order.Order(parts, centroids)
	corridors := buildCorridors(order, centroids, reference, opts.CorridorWidth)

	attempt := make([]*geos.Geom, 0, len(parts)+len(corridors))
	for _, part := range parts {
		attempt = append(attempt, part.Clone())
	}
	for _, corridor := range corridors {
		attempt = append(attempt, corridor.Clone())
	}

	unified, primaryErr := safeCascadedUnion(attempt)
	if primaryErr == nil && unified.IsEmpty() {
		unified.Destroy()
		primaryErr = fmt.Errorf("union produced an empty geometry")
	}
	if primaryErr == nil {
		return &UnifyResult{
			Geometry:  ensureValid(unified),
			Corridors: corridors,
			Status:    UnifyPrimaryUnion,
		}, nil
	}
	log.Printf("Corridor union failed, retrying with parts only: %v", primaryErr)

	fallback := make([]*geos.Geom, 0, len(parts))
	for _, part := range parts {
		fallback = append(fallback, part.Clone())
	}
	unified, fallbackErr := safeCascadedUnion(fallback)
	if fallbackErr == nil {
		return &UnifyResult{
			Geometry:  ensureValid(unified),
			Corridors: corridors,
			Status:    UnifyPartsOnlyUnion,
		}, nil
	}

	destroyGeoms(corridors)
	return &UnifyResult{Status: UnifyFailed, Corridors: []*geos.Geom{}},
		fmt.Errorf("%w: %v (fallback: %v)", ErrUnificationFailed, primaryErr, fallbackErr)
}

// buildCorridors draws a buffered segment between each consecutive centroid
// pair in the given order. A segment is only kept when it lies within or at
// least crosses the reference region, so corridors never bridge pieces
// across territory the analysis does not cover.
func buildCorridors(order []int, centroids []utils.Coord, reference *geos.Geom, width float64) []*geos.Geom {
	corridors := make([]*geos.Geom, 0, len(order))
	for k := 0; k+1 < len(order); k++ {
		from := centroids[order[k]]
		to := centroids[order[k+1]]
		segment := geos.NewLineString([][]float64{{from.X, from.Y}, {to.X, to.Y}})
		if segment == nil {
			continue
		}
		if reference != nil && !segment.Within(reference) && !segment.Intersects(reference) {
			segment.Destroy()
			continue
		}
		corridor := segment.Buffer(width, corridorQuadSegs)
		segment.Destroy()
		if corridor == nil || corridor.IsEmpty() {
			if corridor != nil {
				corridor.Destroy()
			}
			continue
		}
		corridors = append(corridors, ensureValid(corridor))
	}
	return corridors
}

// CascadedUnion merges geometries pairwise, halving the input at each level.
// The inputs are consumed: every geometry passed in is destroyed or returned.
func CascadedUnion(geometries []*geos.Geom) (*geos.Geom, error) {
	if len(geometries) == 0 {
		return nil, fmt.Errorf("no geometries to union")
	}
	if len(geometries) == 1 {
		return geometries[0], nil
	}

	mid := len(geometries) / 2
	left, err := CascadedUnion(geometries[:mid])
	if err != nil {
		return nil, err
	}
	right, err := CascadedUnion(geometries[mid:])
	if err != nil {
		left.Destroy()
		return nil, err
	}

	result := left.Union(right)

	left.Destroy()
	right.Destroy()

	return result, nil
}

// safeCascadedUnion keeps a GEOS topology exception inside the union attempt
// from crashing the request.
func safeCascadedUnion(geometries []*geos.Geom) (result *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("union failed: %v", r)
		}
	}()
	result, err = CascadedUnion(geometries)
	if err == nil && result == nil {
		err = fmt.Errorf("union produced no geometry")
	}
	return result, err
}

func ensureValid(geom *geos.Geom) *geos.Geom {
	if geom == nil || geom.IsValid() {
		return geom
	}
	fixed := geom.MakeValidWithParams(geos.MakeValidStructure, geos.MakeValidDiscardCollapsed)
	if fixed == nil {
		return geom
	}
	geom.Destroy()
	return fixed
}

func destroyGeoms(geoms []*geos.Geom) {
	for _, geom := range geoms {
		if geom != nil {
			geom.Destroy()
		}
	}
}
