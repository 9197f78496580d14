package handlers

import (
	"fmt"
	"log"
	"sort"

	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/twpayne/go-geos"
)

// GeometryIssue describes one invalid member of a geometry collection.
type GeometryIssue struct {
	Ref    int    `json:"ref"`
	Reason string `json:"reason"`
}

// CheckGeometries reports every invalid member of a collection with the
// GEOS validity reason. A simple polygon is treated as a one-member
// collection.
func CheckGeometries(collection *geos.Geom) []GeometryIssue {
	if collection == nil {
		return nil
	}

	var issues []GeometryIssue
	if collection.TypeID() == 3 {
		if !collection.IsValid() {
			issues = append(issues, GeometryIssue{Ref: 0, Reason: collection.IsValidReason()})
		}
		return issues
	}

	fmt.Println("Checking geometries:", collection.NumGeometries())
	numGeometries := collection.NumGeometries()
	for i := 0; i < numGeometries; i++ {
		shape := collection.Geometry(i)
		if !shape.IsValid() {
			issues = append(issues, GeometryIssue{Ref: i, Reason: shape.IsValidReason()})
		}
	}
	return issues
}

// RepairGeometries returns a copy of the collection with every invalid
// polygonal member repaired, plus the refs that were touched. Members that
// resist repair are kept as they were. Repairs run in parallel.
func RepairGeometries(collection *geos.Geom, workers int) (*geos.Geom, []int, error) {
	parts := utils.Decompose(collection)
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("no polygonal geometries to repair")
	}

	jobs := make([]interface{}, len(parts))
	for i := range parts {
		jobs[i] = i
	}

	processor := utils.NewParallelProcessor(workers)
	results, err := processor.ProcessBatch(jobs, func(job interface{}) interface{} {
		i := job.(int)
		repaired := safeRepair(parts[i], i)
		if repaired == nil {
			return nil
		}
		parts[i].Destroy()
		parts[i] = repaired
		return i
	}, "Repairing geometries")
	if err != nil {
		for _, part := range parts {
			part.Destroy()
		}
		return nil, nil, err
	}

	refs := make([]int, 0, len(results))
	for _, result := range results {
		refs = append(refs, result.(int))
	}
	sort.Ints(refs)

	// A repair can split one polygon into several, so flatten before
	// rebuilding the collection.
	flattened := make([]*geos.Geom, 0, len(parts))
	for _, part := range parts {
		if part.TypeID() == 3 {
			flattened = append(flattened, part)
			continue
		}
		flattened = append(flattened, utils.Decompose(part)...)
		part.Destroy()
	}
	if len(flattened) == 0 {
		return nil, nil, fmt.Errorf("nothing survived repair")
	}
	if len(flattened) == 1 {
		return flattened[0], refs, nil
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, flattened), refs, nil
}

// safeRepair repairs one member, recovering from GEOS panics on malformed
// input. Returns nil when the member was already valid or could not be
// fixed.
func safeRepair(geom *geos.Geom, ref int) (out *geos.Geom) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Repair panicked on member %d: %v", ref, r)
			out = nil
		}
	}()

	if geom.IsValid() {
		return nil
	}
	return repairGeometry(geom)
}

// repairGeometry tries the linework repair first, then a zero-width buffer.
// Returns nil when neither produced a valid, non-empty geometry.
func repairGeometry(geom *geos.Geom) *geos.Geom {
	repaired := geom.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
	if repaired != nil && repaired.IsValid() && !repaired.IsEmpty() {
		return repaired
	}
	if repaired != nil {
		repaired.Destroy()
	}

	buffered := geom.Buffer(0, 0)
	if buffered != nil && buffered.IsValid() && !buffered.IsEmpty() {
		return buffered
	}
	if buffered != nil {
		buffered.Destroy()
	}
	return nil
}
