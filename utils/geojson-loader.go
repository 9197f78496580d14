package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/twpayne/go-geos"
)

// LoadedFeature pairs a parsed geometry with its source attributes.
type LoadedFeature struct {
	Geom       *geos.Geom
	Properties map[string]interface{}
}

// GeoDataset is a feature collection parsed into GEOS geometries.
type GeoDataset struct {
	Path     string
	CRS      string
	Features []LoadedFeature
}

type geoJSONFile struct {
	Type string `json:"type"`
	CRS  *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs,omitempty"`
	Features []struct {
		Type       string                 `json:"type"`
		Geometry   json.RawMessage        `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
}

// LoadFeatureCollection reads a GeoJSON file from disk.
func LoadFeatureCollection(path string) (*GeoDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseFeatureCollection(data, path)
}

// ParseFeatureCollection parses raw GeoJSON bytes. Invalid geometries are
// repaired in place; features whose geometry cannot be parsed at all are
// logged and skipped.
func ParseFeatureCollection(data []byte, path string) (*GeoDataset, error) {
	var file geoJSONFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s: expected a FeatureCollection, got %q", path, file.Type)
	}

	dataset := &GeoDataset{Path: path}
	if file.CRS != nil {
		dataset.CRS = file.CRS.Properties.Name
	}

	for i, feature := range file.Features {
		if len(feature.Geometry) == 0 || string(feature.Geometry) == "null" {
			log.Printf("Feature %d in %s has no geometry, skipping", i, path)
			continue
		}
		geom, err := geos.NewGeomFromGeoJSON(string(feature.Geometry))
		if err != nil {
			log.Printf("Feature %d in %s: %v, skipping", i, path, err)
			continue
		}
		if !geom.IsValid() {
			repaired := geom.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
			if repaired != nil {
				geom.Destroy()
				geom = repaired
			}
		}
		dataset.Features = append(dataset.Features, LoadedFeature{
			Geom:       geom,
			Properties: feature.Properties,
		})
	}

	if len(dataset.Features) == 0 {
		return nil, fmt.Errorf("%s: no usable features", path)
	}
	return dataset, nil
}

// Destroy releases every geometry held by the dataset.
func (d *GeoDataset) Destroy() {
	for _, feature := range d.Features {
		if feature.Geom != nil {
			feature.Geom.Destroy()
		}
	}
	d.Features = nil
}
