package utils

import (
	"archive/zip"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/twpayne/go-geos"
	kml "github.com/twpayne/go-kml/v3"
)

// KMLLayer groups geometries under one KML folder with a shared style.
// Colors are #RRGGBB strings; FillOpacity runs from 0 to 1.
type KMLLayer struct {
	Name        string
	Description string
	FillColor   string
	LineColor   string
	LineWidth   float64
	FillOpacity float64
	Geometries  []*geos.Geom
}

// WriteKML renders the layers as an indented KML document: one folder per
// layer, one shared style per layer referenced by its placemarks.
func WriteKML(w io.Writer, name string, layers []KMLLayer) error {
	docElements := []kml.Element{kml.Name(name)}

	placemarkCount := 0
	for i, layer := range layers {
		styleID := fmt.Sprintf("layer-%d", i)
		docElements = append(docElements, kml.SharedStyle(styleID,
			kml.LineStyle(
				kml.Color(hexColor(layer.LineColor, 255)),
				kml.Width(lineWidthOrDefault(layer.LineWidth)),
			),
			kml.PolyStyle(
				kml.Color(hexColor(layer.FillColor, opacityAlpha(layer.FillOpacity))),
			),
		))

		folderElements := []kml.Element{kml.Name(layer.Name)}
		if layer.Description != "" {
			folderElements = append(folderElements, kml.Description(layer.Description))
		}
		for j, geom := range layer.Geometries {
			parts := kmlGeometryElements(geom)
			if len(parts) == 0 {
				continue
			}
			geometry := parts[0]
			if len(parts) > 1 {
				geometry = kml.MultiGeometry(parts...)
			}
			folderElements = append(folderElements, kml.Placemark(
				kml.Name(fmt.Sprintf("%s %d", layer.Name, j+1)),
				kml.StyleURL("#"+styleID),
				geometry,
			))
			placemarkCount++
		}
		docElements = append(docElements, kml.Folder(folderElements...))
	}

	if placemarkCount == 0 {
		return fmt.Errorf("no geometries to write")
	}

	doc := kml.KML(kml.Document(docElements...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

// WriteKMZ writes the layers as a KMZ archive: a zip holding a single
// doc.kml entry.
func WriteKMZ(w io.Writer, name string, layers []KMLLayer) error {
	zipWriter := zip.NewWriter(w)

	entry, err := zipWriter.Create("doc.kml")
	if err != nil {
		return fmt.Errorf("failed to create doc.kml entry: %w", err)
	}
	if err := WriteKML(entry, name, layers); err != nil {
		return err
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close KMZ archive: %w", err)
	}
	return nil
}

// kmlGeometryElements converts polygonal GEOS geometry into KML polygon
// elements, one per polygon part. Non-polygon members are skipped.
func kmlGeometryElements(geom *geos.Geom) []kml.Element {
	if geom == nil || geom.IsEmpty() {
		return nil
	}

	if geom.TypeID() == 3 {
		return []kml.Element{kmlPolygon(geom)}
	}

	var elements []kml.Element
	for i := range geom.NumGeometries() {
		member := geom.Geometry(i)
		if member.IsEmpty() {
			continue
		}
		if member.TypeID() == 3 {
			elements = append(elements, kmlPolygon(member))
			continue
		}
		if member.TypeID() == 6 || member.TypeID() == 7 {
			elements = append(elements, kmlGeometryElements(member)...)
		}
	}
	return elements
}

func kmlPolygon(polygon *geos.Geom) kml.Element {
	elements := []kml.Element{
		kml.OuterBoundaryIs(
			kml.LinearRing(
				kml.Coordinates(ringCoordinates(polygon.ExteriorRing())...),
			),
		),
	}
	for r := range polygon.NumInteriorRings() {
		elements = append(elements, kml.InnerBoundaryIs(
			kml.LinearRing(
				kml.Coordinates(ringCoordinates(polygon.InteriorRing(r))...),
			),
		))
	}
	return kml.Polygon(elements...)
}

func ringCoordinates(ring *geos.Geom) []kml.Coordinate {
	if ring == nil {
		return nil
	}
	seq := ring.CoordSeq()
	coords := make([]kml.Coordinate, seq.Size())
	for i := range seq.Size() {
		coords[i] = kml.Coordinate{Lon: seq.X(i), Lat: seq.Y(i)}
	}
	return coords
}

// hexColor parses #RRGGBB into an RGBA color with the given alpha. Unknown
// values come out gray so a bad color never aborts an export.
func hexColor(hex string, alpha uint8) color.RGBA {
	cleaned := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(cleaned) != 6 {
		return color.RGBA{R: 128, G: 128, B: 128, A: alpha}
	}
	value, err := strconv.ParseUint(cleaned, 16, 32)
	if err != nil {
		return color.RGBA{R: 128, G: 128, B: 128, A: alpha}
	}
	return color.RGBA{
		R: uint8(value >> 16),
		G: uint8(value >> 8),
		B: uint8(value),
		A: alpha,
	}
}

func opacityAlpha(opacity float64) uint8 {
	if opacity <= 0 || opacity > 1 {
		return 255
	}
	return uint8(opacity * 255)
}

func lineWidthOrDefault(width float64) float64 {
	if width <= 0 {
		return 2
	}
	return width
}
