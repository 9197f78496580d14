package handlers

import (
	"fmt"
	"log"

	"github.com/twpayne/go-geos"
)

// CoverageRecord is one measurement polygon with its classified signal level.
// Properties carries the remaining source attributes through to exports.
type CoverageRecord struct {
	Geom       *geos.Geom
	Level      float64
	Properties map[string]interface{}
}

// LevelSelector filters coverage records by their dBm level.
type LevelSelector func(level float64) bool

// LevelEquals selects records whose level matches dbm exactly. Levels in the
// datasets are canonical constants, so exact comparison is intended.
func LevelEquals(dbm float64) LevelSelector {
	return func(level float64) bool { return level == dbm }
}

// FindIntersections clips every selected coverage record against the target
// region. Records that fail geometrically are logged and skipped so one
// corrupt measurement cannot abort the run. Empty intersections are
// discarded. The returned pieces keep the input record order and are owned
// by the caller.
func FindIntersections(target *geos.Geom, records []CoverageRecord, selector LevelSelector) ([]*geos.Geom, error) {
	if target == nil {
		return nil, fmt.Errorf("target geometry is nil")
	}
	if selector == nil {
		selector = func(float64) bool { return true }
	}

	var pieces []*geos.Geom
	for i, record := range records {
		if record.Geom == nil || !selector(record.Level) {
			continue
		}
		piece, err := safeIntersection(target, record.Geom)
		if err != nil {
			log.Printf("Skipping coverage record %d: %v", i, err)
			continue
		}
		if piece == nil || piece.IsEmpty() {
			if piece != nil {
				piece.Destroy()
			}
			continue
		}
		pieces = append(pieces, piece)
	}
	return pieces, nil
}

// safeIntersection wraps the GEOS call so a topology exception on one record
// surfaces as an error instead of a crash.
func safeIntersection(target, coverage *geos.Geom) (result *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("intersection failed: %v", r)
		}
	}()
	return target.Intersection(coverage), nil
}
