package handlers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/twpayne/go-geos"
)

func TestBuildMapDocument(t *testing.T) {
	report := &RunReport{
		RegionName: "CUENCA",
		Request:    RunRequest{Province: "AZUAY"},
		Level:      DefaultLevel(),
		Outcome:    "unified",
		Target:     newTestSquare(t, 0, 0, 10),
		Pieces:     []*geos.Geom{newTestSquare(t, 0, 0, 2), newTestSquare(t, 8, 8, 2)},
		Corridors:  []*geos.Geom{newTestSquare(t, 4, 4, 2)},
		Unified:    newTestSquare(t, 0, 0, 10),
	}
	defer report.Destroy()

	doc, err := BuildMapDocument(report)
	if err != nil {
		t.Fatal(err)
	}

	if doc.Center != [2]float64{5, 5} {
		t.Errorf("center = %v, want the target centre [5 5]", doc.Center)
	}
	if doc.Zoom != DefaultMapZoom {
		t.Errorf("zoom = %d, want %d", doc.Zoom, DefaultMapZoom)
	}

	want := []string{"Target Region", "Coverage Pieces", "Corridors", "Unified Coverage"}
	if len(doc.Layers) != len(want) {
		t.Fatalf("got %d layers, want %d", len(doc.Layers), len(want))
	}
	for i := range want {
		if doc.Layers[i].Name != want[i] {
			t.Errorf("layer[%d] = %q, want %q", i, doc.Layers[i].Name, want[i])
		}
	}

	if got := len(doc.Layers[1].Features.Features); got != 2 {
		t.Errorf("pieces layer has %d features, want 2", got)
	}
	if doc.Layers[1].Style.FillColor != "#00FF00" {
		t.Errorf("pieces fill = %q, want the -85 color", doc.Layers[1].Style.FillColor)
	}
	if doc.Layers[0].Style != targetStyle {
		t.Errorf("target style = %+v", doc.Layers[0].Style)
	}

	if len(doc.Legend) != 4 || doc.Legend[3].Label != "other" {
		t.Errorf("legend = %v", doc.Legend)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	for _, fragment := range []string{`"type":"FeatureCollection"`, `"fillColor":"blue"`, `"name":"CUENCA"`} {
		if !strings.Contains(string(payload), fragment) {
			t.Errorf("payload missing %s", fragment)
		}
	}
}

func TestBuildMapDocument_TargetOnly(t *testing.T) {
	report := &RunReport{
		Level:   DefaultLevel(),
		Outcome: "no-pieces",
		Target:  newTestSquare(t, 0, 0, 10),
	}
	defer report.Destroy()

	doc, err := BuildMapDocument(report)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Layers) != 1 || doc.Layers[0].Name != "Target Region" {
		t.Fatalf("layers = %+v, want only the target", doc.Layers)
	}
}

func TestBuildMapDocument_MultipartUnified(t *testing.T) {
	multi := geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{
		newTestSquare(t, 0, 0, 1),
		newTestSquare(t, 5, 0, 1),
	})
	report := &RunReport{
		Level:   DefaultLevel(),
		Outcome: "parts-only",
		Target:  newTestSquare(t, 0, 0, 10),
		Unified: multi,
	}
	defer report.Destroy()

	doc, err := BuildMapDocument(report)
	if err != nil {
		t.Fatal(err)
	}

	last := doc.Layers[len(doc.Layers)-1]
	if last.Name != "Unified Coverage" {
		t.Fatalf("last layer = %q, want Unified Coverage", last.Name)
	}
	if got := last.Features.Features[0].Geometry.GeoJSONType(); got != "MultiPolygon" {
		t.Errorf("unified geometry type = %q, want MultiPolygon", got)
	}
}

func TestBuildMapDocument_NoTarget(t *testing.T) {
	if _, err := BuildMapDocument(&RunReport{}); err == nil {
		t.Fatal("expected error without a target region")
	}
	if _, err := BuildMapDocument(nil); err == nil {
		t.Fatal("expected error for a nil report")
	}
}
