package handlers

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-geos"
)

// DefaultMapCenter is the fallback view over southern Ecuador, [lat, lon].
var DefaultMapCenter = [2]float64{-2.0, -78.0}

const DefaultMapZoom = 7

// MapStyle mirrors the Leaflet path options the web page applies per layer.
type MapStyle struct {
	FillColor   string  `json:"fillColor"`
	Color       string  `json:"color"`
	Weight      float64 `json:"weight"`
	FillOpacity float64 `json:"fillOpacity"`
}

// MapLayer is one named feature collection rendered with a single style.
type MapLayer struct {
	Name     string                     `json:"name"`
	Style    MapStyle                   `json:"style"`
	Features *geojson.FeatureCollection `json:"features"`
}

type LegendEntry struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// MapDocument is the payload the web page renders: layers plus view
// defaults. Center is [lat, lon].
type MapDocument struct {
	Center [2]float64    `json:"center"`
	Zoom   int           `json:"zoom"`
	Layers []MapLayer    `json:"layers"`
	Legend []LegendEntry `json:"legend"`
}

var (
	targetStyle   = MapStyle{FillColor: "blue", Color: "#000000", Weight: 2, FillOpacity: 0.7}
	unifiedStyle  = MapStyle{FillColor: "#FF6600", Color: "#800080", Weight: 3, FillOpacity: 0.4}
	corridorStyle = MapStyle{FillColor: "#FF6600", Color: "#800080", Weight: 2, FillOpacity: 0.25}
)

// BuildMapDocument renders a run into the map payload. The target layer is
// always present; pieces, corridors and the unified geometry are added when
// the run produced them. The view centers on the target region.
func BuildMapDocument(report *RunReport) (*MapDocument, error) {
	if report == nil || report.Target == nil {
		return nil, fmt.Errorf("no target region to render")
	}

	doc := &MapDocument{
		Center: mapCenter(report.Target),
		Zoom:   DefaultMapZoom,
		Legend: legendEntries(),
	}

	target := geojson.NewFeatureCollection()
	appendFeature(target, report.Target, map[string]interface{}{
		"name":     report.RegionName,
		"province": report.Request.Province,
	})
	doc.Layers = append(doc.Layers, MapLayer{Name: "Target Region", Style: targetStyle, Features: target})

	if len(report.Pieces) > 0 {
		pieces := geojson.NewFeatureCollection()
		for i, piece := range report.Pieces {
			appendFeature(pieces, piece, map[string]interface{}{
				"piece": i,
				"level": report.Level.Name,
			})
		}
		style := MapStyle{FillColor: report.Level.Color, Color: "#000000", Weight: 1, FillOpacity: 0.5}
		doc.Layers = append(doc.Layers, MapLayer{Name: "Coverage Pieces", Style: style, Features: pieces})
	}

	if len(report.Corridors) > 0 {
		corridors := geojson.NewFeatureCollection()
		for i, corridor := range report.Corridors {
			appendFeature(corridors, corridor, map[string]interface{}{"corridor": i})
		}
		doc.Layers = append(doc.Layers, MapLayer{Name: "Corridors", Style: corridorStyle, Features: corridors})
	}

	if report.Unified != nil {
		unified := geojson.NewFeatureCollection()
		appendFeature(unified, report.Unified, map[string]interface{}{
			"status": report.Outcome,
			"level":  report.Level.Name,
		})
		doc.Layers = append(doc.Layers, MapLayer{Name: "Unified Coverage", Style: unifiedStyle, Features: unified})
	}

	return doc, nil
}

func appendFeature(fc *geojson.FeatureCollection, geom *geos.Geom, properties map[string]interface{}) {
	geometry := orbGeometry(geom)
	if geometry == nil {
		return
	}
	feature := geojson.NewFeature(geometry)
	for key, value := range properties {
		feature.Properties[key] = value
	}
	fc.Append(feature)
}

func mapCenter(target *geos.Geom) [2]float64 {
	bounds := target.Bounds()
	if bounds == nil {
		return DefaultMapCenter
	}
	return [2]float64{
		(bounds.MinY + bounds.MaxY) / 2,
		(bounds.MinX + bounds.MaxX) / 2,
	}
}

func legendEntries() []LegendEntry {
	entries := make([]LegendEntry, 0, len(CoverageLevels)+1)
	for _, level := range CoverageLevels {
		entries = append(entries, LegendEntry{
			Label: fmt.Sprintf("%s (%.0f dBm)", level.Name, level.DBm),
			Color: level.Color,
		})
	}
	return append(entries, LegendEntry{Label: "other", Color: OtherLevelColor})
}

// orbGeometry converts a GEOS polygonal geometry into its orb counterpart
// for GeoJSON serialization. Non-polygonal members are dropped.
func orbGeometry(geom *geos.Geom) orb.Geometry {
	if geom == nil || geom.IsEmpty() {
		return nil
	}
	switch geom.TypeID() {
	case 3:
		return orbPolygon(geom)
	case 6, 7:
		var multi orb.MultiPolygon
		numGeometries := geom.NumGeometries()
		for i := 0; i < numGeometries; i++ {
			member := geom.Geometry(i)
			if member.IsEmpty() || member.TypeID() != 3 {
				continue
			}
			multi = append(multi, orbPolygon(member))
		}
		if len(multi) == 0 {
			return nil
		}
		return multi
	}
	return nil
}

func orbPolygon(geom *geos.Geom) orb.Polygon {
	polygon := orb.Polygon{orbRing(geom.ExteriorRing())}
	numInteriorRings := geom.NumInteriorRings()
	for i := 0; i < numInteriorRings; i++ {
		polygon = append(polygon, orbRing(geom.InteriorRing(i)))
	}
	return polygon
}

func orbRing(ring *geos.Geom) orb.Ring {
	seq := ring.CoordSeq()
	size := seq.Size()
	out := make(orb.Ring, 0, size)
	for i := range size {
		out = append(out, orb.Point{seq.X(i), seq.Y(i)})
	}
	return out
}
