package utils

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"
)

// ShapeRecord is one shapefile row: its geometry plus the DBF attributes,
// all attribute values as strings the way the DBF stores them.
type ShapeRecord struct {
	Geom       *geos.Geom
	Attributes map[string]interface{}
}

// ShapeDataset is a fully read shapefile. CRS holds the raw WKT of the .prj
// sidecar when one exists next to the .shp file.
type ShapeDataset struct {
	Path    string
	CRS     string
	Fields  []string
	Records []ShapeRecord
}

// ReadShapefile reads a .shp file and its DBF attributes into GEOS
// geometries. Rows with unsupported shape types are skipped with a log line;
// invalid polygons are repaired on load.
func ReadShapefile(path string) (*ShapeDataset, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer reader.Close()

	fields := reader.Fields()
	fieldNames := make([]string, len(fields))
	for i, field := range fields {
		fieldNames[i] = field.String()
	}

	dataset := &ShapeDataset{
		Path:   path,
		CRS:    readProjection(path),
		Fields: fieldNames,
	}

	for reader.Next() {
		row, shape := reader.Shape()

		var geom *geos.Geom
		switch s := shape.(type) {
		case *shp.Null:
			continue
		case *shp.Polygon:
			geom = polygonFromShp(s)
		case *shp.Point:
			geom = geos.NewPoint([]float64{s.X, s.Y})
		default:
			log.Printf("Skipping row %d in %s: unsupported shape type %T", row, path, shape)
			continue
		}
		if geom == nil {
			log.Printf("Skipping row %d in %s: could not build geometry", row, path)
			continue
		}

		attributes := make(map[string]interface{}, len(fieldNames))
		for i, name := range fieldNames {
			attributes[name] = strings.TrimSpace(reader.ReadAttribute(row, i))
		}

		dataset.Records = append(dataset.Records, ShapeRecord{Geom: geom, Attributes: attributes})
	}
	if err := reader.Err(); err != nil {
		dataset.Destroy()
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	if len(dataset.Records) == 0 {
		return nil, fmt.Errorf("%s: no usable records", path)
	}
	return dataset, nil
}

// polygonFromShp converts a shapefile polygon record. All parts are loaded
// as rings of a single polygon; records whose parts are really sibling
// outer rings come out invalid and are rebuilt into a multipolygon by GEOS.
func polygonFromShp(s *shp.Polygon) *geos.Geom {
	var rings [][][]float64
	for i := 0; i < int(s.NumParts); i++ {
		start := s.Parts[i]
		end := s.NumPoints
		if i < int(s.NumParts)-1 {
			end = s.Parts[i+1]
		}

		var ring [][]float64
		for j := start; j < end; j++ {
			ring = append(ring, []float64{s.Points[j].X, s.Points[j].Y})
		}
		if len(ring) < 4 {
			continue
		}
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return nil
	}

	polygon := geos.NewPolygon(rings)
	if polygon == nil {
		return nil
	}
	if !polygon.IsValid() {
		repaired := polygon.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
		if repaired != nil {
			polygon.Destroy()
			return repaired
		}
	}
	return polygon
}

// readProjection reads the .prj sidecar next to a .shp file, if present.
func readProjection(shpPath string) string {
	prjPath := strings.TrimSuffix(shpPath, ".shp")
	prjPath = strings.TrimSuffix(prjPath, ".SHP") + ".prj"
	data, err := os.ReadFile(prjPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Destroy releases every geometry held by the dataset.
func (d *ShapeDataset) Destroy() {
	for _, record := range d.Records {
		if record.Geom != nil {
			record.Geom.Destroy()
		}
	}
	d.Records = nil
}
