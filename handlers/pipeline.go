package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/twpayne/go-geos"
)

// DefaultLevelColumn is the DBF column carrying the dBm level in the
// coverage datasets this tool was built for.
const DefaultLevelColumn = "Float"

// coverageCellSize is the prefilter grid cell size in CRS degrees, sized for
// parish-scale polygons.
const coverageCellSize = 0.05

const suggestionLimit = 5

// MetricsRecorder receives pipeline outcomes. A nil recorder disables
// recording; implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RecordRun(outcome string, elapsed time.Duration)
	RecordPieces(count int)
	RecordCorridors(count int)
	RecordExport(format, result string)
}

// Pipeline wires region lookup, coverage intersection, unification and
// export together. Each Run re-reads its inputs; no state is shared between
// runs, so one Pipeline can serve concurrent requests.
type Pipeline struct {
	BoundaryDir       string
	LevelColumn       string
	PrimaryNameColumn string
	CorridorWidth     float64
	Order             OrderStrategy
	NeighborMeters    float64
	Metrics           MetricsRecorder
}

// RunRequest is one analysis request. CoveragePath points at either a bare
// .shp file or a zip holding the shapefile sidecar set.
type RunRequest struct {
	Province     string
	Region       string
	Operator     string
	Technology   string
	Year         string
	Level        string
	CoveragePath string
}

// RunReport is the full outcome of one run. The report owns every geometry
// it carries; call Destroy once it is no longer needed. Suggestions is only
// populated when the region lookup failed.
type RunReport struct {
	ID          string
	Request     RunRequest
	Level       CoverageLevel
	RegionName  string
	MatchColumn string
	MatchCount  int
	Outcome     string
	Suggestions []string
	Neighbors   []string
	CRS         string
	Target      *geos.Geom
	Pieces      []*geos.Geom
	Corridors   []*geos.Geom
	Unified     *geos.Geom
	Elapsed     time.Duration
}

// Run executes the full read, match, intersect, unify pipeline for one
// request. Lookup misses and unification failures come back as a report
// carrying the outcome plus the matching sentinel error; loading problems
// return a bare error.
func (p *Pipeline) Run(req RunRequest) (*RunReport, error) {
	started := time.Now()

	if err := validateSelection(req); err != nil {
		return nil, err
	}
	level, err := ParseLevel(req.Level)
	if err != nil {
		return nil, err
	}

	file, err := ProvinceFile(req.Province)
	if err != nil {
		return nil, err
	}
	boundary, err := utils.LoadFeatureCollection(filepath.Join(p.BoundaryDir, file))
	if err != nil {
		return nil, fmt.Errorf("failed to load boundary dataset: %w", err)
	}
	defer boundary.Destroy()
	dataset := &BoundaryDataset{Name: req.Province, CRS: boundary.CRS, Features: boundary.Features}

	report := &RunReport{
		ID:      uuid.New().String(),
		Request: req,
		Level:   level,
		CRS:     boundary.CRS,
	}

	match, err := FindRegionByName(dataset, req.Region, p.PrimaryNameColumn)
	if err != nil {
		if errors.Is(err, ErrRegionNotFound) {
			report.Outcome = "region-not-found"
			report.Suggestions = SuggestRegions(dataset, req.Region, p.PrimaryNameColumn, suggestionLimit)
			p.recordRun(report, started)
			return report, err
		}
		return nil, err
	}
	report.RegionName = match.Name
	report.MatchColumn = match.MatchColumn
	report.MatchCount = match.MatchCount
	report.Target = match.Geom.Clone()

	records, coverageCRS, cleanup, err := p.loadCoverage(req.CoveragePath)
	if err != nil {
		report.Destroy()
		return nil, err
	}
	defer cleanup()
	if coverageCRS != "" {
		report.CRS = coverageCRS
	}

	log.Printf("Run %s: %s / %s, %d coverage records, level %s (%.0f dBm)",
		report.ID, req.Province, match.Name, len(records), level.Name, level.DBm)

	candidates := coverageCandidates(records, report.Target)
	pieces, err := FindIntersections(report.Target, candidates, LevelEquals(level.DBm))
	if err != nil {
		report.Destroy()
		return nil, err
	}
	report.Pieces = pieces
	p.recordPieces(len(pieces))

	result, unifyErr := Unify(pieces, report.Target, UnifyOptions{
		CorridorWidth: p.CorridorWidth,
		Order:         p.Order,
	})
	report.Unified = result.Geometry
	report.Corridors = result.Corridors
	report.Outcome = result.Status.String()
	p.recordCorridors(len(result.Corridors))

	if unifyErr != nil {
		p.recordRun(report, started)
		return report, unifyErr
	}

	if p.NeighborMeters > 0 && report.Unified != nil {
		report.Neighbors = neighborRegions(dataset, match.Geom, report.Unified, p.NeighborMeters, p.PrimaryNameColumn)
	}

	p.recordRun(report, started)
	log.Printf("Run %s finished: outcome=%s pieces=%d corridors=%d in %s",
		report.ID, report.Outcome, len(report.Pieces), len(report.Corridors), report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// WriteKMZ serializes the report as a KMZ with the unified geometry, the
// raw pieces and the corridors in separate styled folders. Coordinates are
// truncated to the export precision first. The report stays valid, so a
// failed export can be retried.
func (p *Pipeline) WriteKMZ(w io.Writer, report *RunReport) error {
	layers, cleanup, err := kmzLayers(report)
	if err != nil {
		p.recordExport("kmz", "error")
		return err
	}
	defer cleanup()

	if err := utils.WriteKMZ(w, report.BaseName(), layers); err != nil {
		p.recordExport("kmz", "error")
		return fmt.Errorf("kmz export failed: %w", err)
	}
	p.recordExport("kmz", "ok")
	return nil
}

// WriteShapefileZip serializes the unified geometry as a shapefile archive,
// carrying the run's CRS into the .prj sidecar.
func (p *Pipeline) WriteShapefileZip(w io.Writer, report *RunReport) error {
	if report == nil || report.Unified == nil {
		p.recordExport("shapefile", "error")
		return fmt.Errorf("nothing to export")
	}

	truncated, err := utils.TruncateFullGeometry(report.Unified)
	if err != nil {
		log.Printf("Exporting full-precision coordinates: %v", err)
		truncated = report.Unified.Clone()
	}
	defer truncated.Destroy()

	export := &utils.ShapefileExport{
		Name: report.BaseName(),
		CRS:  report.CRS,
		Features: []utils.ExportFeature{{
			Geometry: truncated,
			Properties: map[string]interface{}{
				"REGION":   report.RegionName,
				"OPERATOR": report.Request.Operator,
				"TECH":     report.Request.Technology,
				"YEAR":     report.Request.Year,
				"LEVEL":    report.Level.Name,
				"STATUS":   report.Outcome,
			},
		}},
	}
	payload, err := utils.GenerateShapefileZip(export)
	if err != nil {
		p.recordExport("shapefile", "error")
		return fmt.Errorf("shapefile export failed: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		p.recordExport("shapefile", "error")
		return fmt.Errorf("failed to write shapefile archive: %w", err)
	}
	p.recordExport("shapefile", "ok")
	return nil
}

// BaseName builds the artifact name from the selection metadata, lowercased
// with spaces collapsed to underscores. Empty fields are skipped.
func (r *RunReport) BaseName() string {
	region := r.RegionName
	if region == "" {
		region = r.Request.Region
	}
	parts := []string{region}
	for _, part := range []string{r.Request.Operator, r.Request.Year, r.Request.Technology} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	name := strings.ToLower(strings.Join(parts, "_"))
	return strings.ReplaceAll(name, " ", "_")
}

// ArtifactName is BaseName plus an extension, e.g. "banos_claro_2023_4g.kmz".
func (r *RunReport) ArtifactName(extension string) string {
	return r.BaseName() + "." + strings.TrimPrefix(extension, ".")
}

// Destroy frees every geometry the report owns. Safe to call twice.
func (r *RunReport) Destroy() {
	if r.Target != nil {
		r.Target.Destroy()
		r.Target = nil
	}
	for _, piece := range r.Pieces {
		piece.Destroy()
	}
	r.Pieces = nil
	for _, corridor := range r.Corridors {
		corridor.Destroy()
	}
	r.Corridors = nil
	if r.Unified != nil {
		r.Unified.Destroy()
		r.Unified = nil
	}
}

func validateSelection(req RunRequest) error {
	if req.Operator != "" && !ValidOperator(req.Operator) {
		return fmt.Errorf("unknown operator %q, expected one of %v", req.Operator, Operators)
	}
	if req.Technology != "" && !ValidTechnology(req.Technology) {
		return fmt.Errorf("unknown technology %q, expected one of %v", req.Technology, Technologies)
	}
	if req.Year != "" && !ValidYear(req.Year) {
		return fmt.Errorf("unknown year %q, expected one of %v", req.Year, Years)
	}
	return nil
}

// loadCoverage reads the coverage shapefile behind path, extracting it to a
// temp dir first when it is zipped. The returned cleanup frees the dataset
// and the temp dir together.
func (p *Pipeline) loadCoverage(path string) ([]CoverageRecord, string, func(), error) {
	shpPath := path
	tempDir := ""
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "coverage-")
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		if _, err := utils.ExtractZip(path, dir); err != nil {
			os.RemoveAll(dir)
			return nil, "", nil, err
		}
		found, err := utils.FindShapefile(dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, "", nil, err
		}
		shpPath = found
		tempDir = dir
	}

	shapes, err := utils.ReadShapefile(shpPath)
	if err != nil {
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return nil, "", nil, err
	}

	column := p.levelColumn()
	records := make([]CoverageRecord, 0, len(shapes.Records))
	for i := range shapes.Records {
		records = append(records, CoverageRecord{
			Geom:       shapes.Records[i].Geom,
			Level:      attributeLevel(shapes.Records[i].Attributes, column),
			Properties: shapes.Records[i].Attributes,
		})
	}

	cleanup := func() {
		shapes.Destroy()
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	}
	return records, shapes.CRS, cleanup, nil
}

func (p *Pipeline) levelColumn() string {
	if p.LevelColumn == "" {
		return DefaultLevelColumn
	}
	return p.LevelColumn
}

// attributeLevel parses the level column of one record. Records without a
// usable value get NaN, which no selector matches.
func attributeLevel(attributes map[string]interface{}, column string) float64 {
	value, ok := attributes[column]
	if !ok {
		return math.NaN()
	}
	text, ok := value.(string)
	if !ok {
		return math.NaN()
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return math.NaN()
	}
	return level
}

// coverageCandidates drops records whose bounding box cannot reach the
// target, keeping the survivors in their original order.
func coverageCandidates(records []CoverageRecord, target *geos.Geom) []CoverageRecord {
	if len(records) == 0 || target == nil {
		return records
	}
	index := utils.NewSpatialIndex(coverageCellSize)
	for i := range records {
		index.AddGeometry(records[i].Geom, i, nil)
	}
	wanted := index.CandidateIndexes(target)
	if len(wanted) == len(records) {
		return records
	}

	kept := make([]CoverageRecord, 0, len(wanted))
	for i := range records {
		if wanted[i] {
			kept = append(kept, records[i])
		}
	}
	log.Printf("Bounding-box prefilter kept %d of %d coverage records", len(kept), len(records))
	return kept
}

// neighborRegions lists the parishes whose boundary lies within the given
// distance of the unified geometry. The matched region itself is excluded.
func neighborRegions(dataset *BoundaryDataset, matched, unified *geos.Geom, meters float64, nameColumn string) []string {
	tolerance := utils.CalculateWGS84ToleranceFromMeters(meters)
	index := utils.NewSpatialIndex(tolerance * 100)
	for i := range dataset.Features {
		if dataset.Features[i].Geom == matched {
			continue
		}
		index.AddGeometry(dataset.Features[i].Geom, i, dataset.Features[i].Properties)
	}

	seen := make(map[string]bool)
	var names []string
	for _, neighbor := range index.FindNeighbors(unified, tolerance) {
		name, ok := stringProperty(neighbor.Properties, nameColumn)
		if !ok || name == "" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// kmzLayers assembles the styled export layers from truncated copies of the
// report geometries. The cleanup function frees the copies.
func kmzLayers(report *RunReport) ([]utils.KMLLayer, func(), error) {
	if report == nil || report.Unified == nil {
		return nil, nil, fmt.Errorf("nothing to export")
	}

	var owned []*geos.Geom
	truncate := func(geom *geos.Geom) *geos.Geom {
		truncated, err := utils.TruncateFullGeometry(geom)
		if err != nil {
			log.Printf("Exporting full-precision coordinates: %v", err)
			truncated = geom.Clone()
		}
		owned = append(owned, truncated)
		return truncated
	}

	layers := []utils.KMLLayer{{
		Name:        "Unified Coverage",
		Description: fmt.Sprintf("Level %s (%.0f dBm), status %s", report.Level.Name, report.Level.DBm, report.Outcome),
		FillColor:   "#FF6600",
		LineColor:   "#800080",
		LineWidth:   3,
		FillOpacity: 0.4,
		Geometries:  []*geos.Geom{truncate(report.Unified)},
	}}
	if len(report.Pieces) > 0 {
		pieces := make([]*geos.Geom, 0, len(report.Pieces))
		for _, piece := range report.Pieces {
			pieces = append(pieces, truncate(piece))
		}
		layers = append(layers, utils.KMLLayer{
			Name:        "Coverage Pieces",
			FillColor:   report.Level.Color,
			LineColor:   "#000000",
			LineWidth:   2,
			FillOpacity: 0.5,
			Geometries:  pieces,
		})
	}
	if len(report.Corridors) > 0 {
		corridors := make([]*geos.Geom, 0, len(report.Corridors))
		for _, corridor := range report.Corridors {
			corridors = append(corridors, truncate(corridor))
		}
		layers = append(layers, utils.KMLLayer{
			Name:        "Corridors",
			FillColor:   "#FF6600",
			LineColor:   "#800080",
			LineWidth:   2,
			FillOpacity: 0.25,
			Geometries:  corridors,
		})
	}

	cleanup := func() {
		for _, geom := range owned {
			geom.Destroy()
		}
	}
	return layers, cleanup, nil
}

func (p *Pipeline) recordRun(report *RunReport, started time.Time) {
	report.Elapsed = time.Since(started)
	if p.Metrics != nil {
		p.Metrics.RecordRun(report.Outcome, report.Elapsed)
	}
}

func (p *Pipeline) recordPieces(count int) {
	if p.Metrics != nil {
		p.Metrics.RecordPieces(count)
	}
}

func (p *Pipeline) recordCorridors(count int) {
	if p.Metrics != nil {
		p.Metrics.RecordCorridors(count)
	}
}

func (p *Pipeline) recordExport(format, result string) {
	if p.Metrics != nil {
		p.Metrics.RecordExport(format, result)
	}
}
