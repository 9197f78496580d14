package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/jpcarrera/go-coverage-unifier/handlers"
	"github.com/prometheus/client_golang/prometheus"
)

const testBoundaryJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}},
  "features": [
    {
      "type": "Feature",
      "properties": {"DPA_DESPAR": "CUENCA", "DPA_DESPRO": "AZUAY"},
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}
    },
    {
      "type": "Feature",
      "properties": {"DPA_DESPAR": "BAÑOS", "DPA_DESPRO": "AZUAY"},
      "geometry": {"type": "Polygon", "coordinates": [[[20,20],[30,20],[30,30],[20,30],[20,20]]]}
    }
  ]
}`

func writeTestBoundaryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "azuay.geojson"), []byte(testBoundaryJSON), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// writeTestCoverageZip builds a zipped coverage shapefile with two corner
// squares at level -85 inside the CUENCA test region.
func writeTestCoverageZip(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.shp")

	writer, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatal(err)
	}
	writer.SetFields([]shp.Field{
		shp.StringField("OPERADORA", 20),
		shp.FloatField("Float", 15, 5),
	})
	for i, origin := range [][2]float64{{0, 0}, {8, 8}} {
		minX, minY := origin[0], origin[1]
		points := []shp.Point{
			{X: minX, Y: minY},
			{X: minX, Y: minY + 2},
			{X: minX + 2, Y: minY + 2},
			{X: minX + 2, Y: minY},
			{X: minX, Y: minY},
		}
		polygon := &shp.Polygon{
			Box:       shp.Box{MinX: minX, MinY: minY, MaxX: minX + 2, MaxY: minY + 2},
			NumParts:  1,
			NumPoints: int32(len(points)),
			Parts:     []int32{0},
			Points:    points,
		}
		writer.Write(polygon)
		writer.WriteAttribute(i, 0, "CLARO")
		writer.WriteAttribute(i, 1, -85.0)
	}
	writer.Close()

	prj := `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]]]`
	if err := os.WriteFile(filepath.Join(dir, "coverage.prj"), []byte(prj), 0644); err != nil {
		t.Fatal(err)
	}

	sidecars, err := filepath.Glob(filepath.Join(dir, "coverage.*"))
	if err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(dir, "coverage.zip")
	out, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	archive := zip.NewWriter(out)
	for _, sidecar := range sidecars {
		data, err := os.ReadFile(sidecar)
		if err != nil {
			t.Fatal(err)
		}
		entry, err := archive.Create(filepath.Base(sidecar))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := archive.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return zipPath
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := &Config{
		Paths: PathsConfig{BoundaryDir: writeTestBoundaryDir(t)},
		Pipeline: PipelineConfig{
			CorridorWidth: handlers.DefaultCorridorWidth,
			LevelColumn:   handlers.DefaultLevelColumn,
			NameColumn:    "DPA_DESPAR",
			OrderStrategy: "centroid-x",
		},
		HTTP:    HTTPConfig{Addr: ":0"},
		Service: ServiceConfig{Workers: 2},
	}
	collector, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(cfg, cfg.NewPipeline(collector), collector, nil), writeTestCoverageZip(t)
}

func analysisFormRequest(t *testing.T, target string, fields map[string]string, coveragePath string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatal(err)
		}
	}
	part, err := writer.CreateFormFile("coverage", filepath.Base(coveragePath))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(coveragePath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestFormHandler(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"Coverage Unifier", "AZUAY", "CLARO", "4G", `value="high"`, "analysis-form"} {
		if !strings.Contains(body, want) {
			t.Errorf("form page missing %q", want)
		}
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	server, coverageZip := newTestServer(t)

	req := analysisFormRequest(t, "/analyze", map[string]string{
		"province":   "AZUAY",
		"region":     "cuenca",
		"operator":   "CLARO",
		"technology": "4G",
		"year":       "2023",
		"level":      "high",
	}, coverageZip)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("POST /analyze status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp analyzeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != "unified" {
		t.Fatalf("outcome = %q, want unified", resp.Outcome)
	}
	if resp.Region != "CUENCA" {
		t.Errorf("region = %q, want CUENCA", resp.Region)
	}
	if resp.Pieces != 2 || resp.Corridors != 1 {
		t.Errorf("pieces = %d, corridors = %d, want 2 and 1", resp.Pieces, resp.Corridors)
	}
	if resp.Map == nil || len(resp.Map.Layers) != 4 {
		t.Fatalf("expected a 4-layer map document, got %+v", resp.Map)
	}
}

func TestAnalyzeEndpoint_RegionNotFound(t *testing.T) {
	server, coverageZip := newTestServer(t)

	req := analysisFormRequest(t, "/analyze", map[string]string{
		"province": "AZUAY",
		"region":   "cunca",
	}, coverageZip)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with suggestions", rr.Code)
	}
	var resp analyzeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != "region-not-found" {
		t.Fatalf("outcome = %q, want region-not-found", resp.Outcome)
	}
	if len(resp.Suggestions) == 0 || resp.Suggestions[0] != "CUENCA" {
		t.Errorf("suggestions = %v, want CUENCA first", resp.Suggestions)
	}
}

func TestAnalyzeEndpoint_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/analyze", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /analyze status = %d, want 405", rr.Code)
	}
}

func TestExportKMZEndpoint(t *testing.T) {
	server, coverageZip := newTestServer(t)

	req := analysisFormRequest(t, "/export/kmz", map[string]string{
		"province":   "AZUAY",
		"region":     "cuenca",
		"operator":   "CLARO",
		"technology": "4G",
		"year":       "2023",
	}, coverageZip)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("POST /export/kmz status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/vnd.google-earth.kmz" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "cuenca_claro_2023_4g.kmz") {
		t.Errorf("Content-Disposition = %q", got)
	}

	reader, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(reader.File) != 1 || reader.File[0].Name != "doc.kml" {
		t.Fatalf("expected single doc.kml entry, got %v", reader.File)
	}
	entry, err := reader.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer entry.Close()
	content, err := io.ReadAll(entry)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "Unified Coverage") {
		t.Error("doc.kml missing the unified layer")
	}
}

func TestExportEndpoint_UnknownRegion(t *testing.T) {
	server, coverageZip := newTestServer(t)

	req := analysisFormRequest(t, "/export/shapefile", map[string]string{
		"province": "AZUAY",
		"region":   "atlantis",
	}, coverageZip)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestCheckGeometryEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	bowtie := `{"type":"Polygon","coordinates":[[[0,0],[2,2],[2,0],[0,2],[0,0]]]}`

	req := httptest.NewRequest(http.MethodPost, "/check-geometry", strings.NewReader(bowtie))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp checkResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid {
		t.Fatal("bowtie reported as valid")
	}
	if len(resp.Issues) != 1 || resp.Issues[0].Ref != 0 {
		t.Fatalf("issues = %+v, want one issue for geometry 0", resp.Issues)
	}
	if resp.Repaired != nil {
		t.Error("repair was not requested")
	}
}

func TestCheckGeometryEndpoint_Repair(t *testing.T) {
	server, _ := newTestServer(t)
	bowtie := `{"type":"Polygon","coordinates":[[[0,0],[2,2],[2,0],[0,2],[0,0]]]}`

	req := httptest.NewRequest(http.MethodPost, "/check-geometry?repair=true", strings.NewReader(bowtie))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp checkResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Repaired) == 0 {
		t.Fatal("expected repaired geometry in response")
	}
	if len(resp.RepairedRefs) != 1 || resp.RepairedRefs[0] != 0 {
		t.Errorf("repairedRefs = %v, want [0]", resp.RepairedRefs)
	}
}

func TestCheckGeometryEndpoint_BadPayload(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/check-geometry", strings.NewReader("not geojson"))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, coverageZip := newTestServer(t)

	analyze := analysisFormRequest(t, "/analyze", map[string]string{
		"province": "AZUAY",
		"region":   "cuenca",
	}, coverageZip)
	server.Routes().ServeHTTP(httptest.NewRecorder(), analyze)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"coverage_runs_total", "coverage_run_pieces", "coverage_corridors_total"} {
		if !strings.Contains(body, metric) {
			t.Errorf("/metrics missing %q", metric)
		}
	}
}
