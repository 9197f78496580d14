package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jpcarrera/go-coverage-unifier/handlers"
	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/twpayne/go-geos"
)

// Server exposes the analysis pipeline over HTTP: a form page, the analysis
// endpoint feeding the map, export endpoints and a geometry checker.
type Server struct {
	cfg       *Config
	pipeline  *handlers.Pipeline
	collector *Collector
	publisher *Publisher
}

func NewServer(cfg *Config, pipeline *handlers.Pipeline, collector *Collector, publisher *Publisher) *Server {
	return &Server{cfg: cfg, pipeline: pipeline, collector: collector, publisher: publisher}
}

// Routes builds the server mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.formHandler)
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/export/kmz", s.exportKMZHandler)
	mux.HandleFunc("/export/shapefile", s.exportShapefileHandler)
	mux.HandleFunc("/check-geometry", s.checkGeometryHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", s.collector.Handler())
	return mux
}

func (s *Server) ListenAndServe() error {
	log.Printf("Registered all HTTP handlers")
	log.Printf("Server is listening on %s...", s.cfg.HTTP.Addr)
	fmt.Println("Server is listening on", s.cfg.HTTP.Addr)
	return http.ListenAndServe(s.cfg.HTTP.Addr, s.Routes())
}

type analyzeResponse struct {
	ID          string                 `json:"id,omitempty"`
	Outcome     string                 `json:"outcome"`
	Region      string                 `json:"region,omitempty"`
	MatchColumn string                 `json:"matchColumn,omitempty"`
	MatchCount  int                    `json:"matchCount,omitempty"`
	Level       handlers.CoverageLevel `json:"level"`
	Pieces      int                    `json:"pieces"`
	Corridors   int                    `json:"corridors"`
	Neighbors   []string               `json:"neighbors,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Elapsed     string                 `json:"elapsed,omitempty"`
	Map         *handlers.MapDocument  `json:"map,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC recovered in analyzeHandler: %v", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("=== Analysis request received ===")

	form, err := utils.ReadAnalysisForm(r, "coverage")
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	defer os.Remove(form.CoveragePath)

	report, err := s.pipeline.Run(runRequestFromForm(form))
	if report == nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	defer report.Destroy()

	resp := analyzeResponse{
		ID:          report.ID,
		Outcome:     report.Outcome,
		Region:      report.RegionName,
		MatchColumn: report.MatchColumn,
		MatchCount:  report.MatchCount,
		Level:       report.Level,
		Pieces:      len(report.Pieces),
		Corridors:   len(report.Corridors),
		Neighbors:   report.Neighbors,
		Suggestions: report.Suggestions,
		Elapsed:     report.Elapsed.Round(time.Millisecond).String(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if report.Target != nil {
		doc, mapErr := handlers.BuildMapDocument(report)
		if mapErr != nil {
			log.Printf("Map rendering failed: %v", mapErr)
		} else {
			resp.Map = doc
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendResponse(w, payload)
}

func (s *Server) exportKMZHandler(w http.ResponseWriter, r *http.Request) {
	s.exportHandler(w, r, "kmz")
}

func (s *Server) exportShapefileHandler(w http.ResponseWriter, r *http.Request) {
	s.exportHandler(w, r, "shapefile")
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request, format string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC recovered in exportHandler: %v", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("=== Export request received (%s) ===", format)

	form, err := utils.ReadAnalysisForm(r, "coverage")
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	defer os.Remove(form.CoveragePath)

	report, err := s.pipeline.Run(runRequestFromForm(form))
	if err != nil {
		if report != nil {
			report.Destroy()
		}
		sendError(w, http.StatusUnprocessableEntity, err)
		return
	}
	defer report.Destroy()

	var buf bytes.Buffer
	var name, contentType string
	switch format {
	case "kmz":
		err = s.pipeline.WriteKMZ(&buf, report)
		name = report.ArtifactName(".kmz")
		contentType = "application/vnd.google-earth.kmz"
	default:
		err = s.pipeline.WriteShapefileZip(&buf, report)
		name = report.ArtifactName(".zip")
		contentType = "application/zip"
	}
	if err != nil {
		sendError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if s.publisher != nil && r.FormValue("publish") == "true" {
		url, pubErr := s.publisher.PublishArtifact(r.Context(), report.ID+"/"+name, bytes.NewReader(buf.Bytes()))
		if pubErr != nil {
			sendError(w, http.StatusBadGateway, pubErr)
			return
		}
		payload, _ := json.Marshal(map[string]string{"name": name, "url": url})
		sendResponse(w, payload)
		return
	}

	sendAttachment(w, name, contentType, buf.Bytes())
}

type checkResponse struct {
	Valid        bool                     `json:"valid"`
	Issues       []handlers.GeometryIssue `json:"issues"`
	Repaired     json.RawMessage          `json:"repaired,omitempty"`
	RepairedRefs []int                    `json:"repairedRefs,omitempty"`
}

func (s *Server) checkGeometryHandler(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("PANIC recovered in checkGeometryHandler: %v", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	geom, err := geos.NewGeomFromGeoJSON(body)
	if err != nil {
		sendError(w, http.StatusBadRequest, fmt.Errorf("failed to parse GeoJSON: %w", err))
		return
	}
	defer geom.Destroy()

	issues := handlers.CheckGeometries(geom)
	resp := checkResponse{Valid: len(issues) == 0, Issues: issues}
	if resp.Issues == nil {
		resp.Issues = []handlers.GeometryIssue{}
	}

	if r.URL.Query().Get("repair") == "true" && len(issues) > 0 {
		repaired, refs, repairErr := handlers.RepairGeometries(geom, s.cfg.Service.Workers)
		if repairErr != nil {
			sendError(w, http.StatusUnprocessableEntity, repairErr)
			return
		}
		resp.Repaired = json.RawMessage(repaired.ToGeoJSON(-1))
		resp.RepairedRefs = refs
		repaired.Destroy()
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendResponse(w, payload)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, []byte(`{"status":"ok"}`))
}

func (s *Server) formHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := formData{
		Provinces:    handlers.ProvinceNames(),
		Operators:    handlers.Operators,
		Technologies: handlers.Technologies,
		Years:        handlers.Years,
		Levels:       handlers.CoverageLevels,
		Center:       handlers.DefaultMapCenter,
		Zoom:         handlers.DefaultMapZoom,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := formTemplate.Execute(w, data); err != nil {
		log.Printf("Error rendering form page: %v", err)
	}
}

func runRequestFromForm(form *utils.AnalysisForm) handlers.RunRequest {
	return handlers.RunRequest{
		Province:     form.Province,
		Region:       form.Region,
		Operator:     form.Operator,
		Technology:   form.Technology,
		Year:         form.Year,
		Level:        form.Level,
		CoveragePath: form.CoveragePath,
	}
}

func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return "", false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return "", false
	}
	defer r.Body.Close()

	return string(body), true
}

func sendResponse(w http.ResponseWriter, response []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

func sendError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func sendAttachment(w http.ResponseWriter, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type formData struct {
	Provinces    []string
	Operators    []string
	Technologies []string
	Years        []string
	Levels       []handlers.CoverageLevel
	Center       [2]float64
	Zoom         int
}

var formTemplate = template.Must(template.New("form").Parse(formPage))

const formPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Coverage Unifier</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>
body { font-family: sans-serif; margin: 1rem 2rem; }
form { display: flex; flex-wrap: wrap; gap: 0.5rem; align-items: center; margin-bottom: 0.5rem; }
select, input, button { padding: 0.3rem; }
#map { height: 600px; margin-top: 0.5rem; }
#legend span { display: inline-block; width: 12px; height: 12px; margin-right: 4px; border: 1px solid #333; }
#legend { margin: 0.5rem 0; }
#status { color: #444; min-height: 1.2em; }
</style>
</head>
<body>
<h1>Coverage Unifier</h1>
<form id="analysis-form">
<select name="province">{{range .Provinces}}<option>{{.}}</option>{{end}}</select>
<input type="text" name="region" placeholder="Parroquia" required>
<select name="operator">{{range .Operators}}<option>{{.}}</option>{{end}}</select>
<select name="technology">{{range .Technologies}}<option>{{.}}</option>{{end}}</select>
<select name="year">{{range .Years}}<option>{{.}}</option>{{end}}</select>
<select name="level">{{range .Levels}}<option value="{{.Name}}">{{.Name}} ({{printf "%.0f" .DBm}} dBm)</option>{{end}}</select>
<input type="file" name="coverage" accept=".zip,.shp" required>
<button type="submit">Analyze</button>
<button type="button" id="export-kmz">Export KMZ</button>
<button type="button" id="export-shapefile">Export Shapefile</button>
</form>
<p id="status"></p>
<div id="legend"></div>
<div id="map"></div>
<script>
var map = L.map('map').setView([{{index .Center 0}}, {{index .Center 1}}], {{.Zoom}});
L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {maxZoom: 19}).addTo(map);
var overlays = [];

document.getElementById('analysis-form').addEventListener('submit', function (ev) {
	ev.preventDefault();
	run('/analyze');
});
document.getElementById('export-kmz').addEventListener('click', function () { download('/export/kmz'); });
document.getElementById('export-shapefile').addEventListener('click', function () { download('/export/shapefile'); });

function formBody() { return new FormData(document.getElementById('analysis-form')); }

function run(url) {
	var status = document.getElementById('status');
	status.textContent = 'Running analysis...';
	fetch(url, {method: 'POST', body: formBody()})
		.then(function (resp) { return resp.json(); })
		.then(function (data) {
			if (data.error && !data.outcome) { status.textContent = data.error; return; }
			if (data.outcome === 'region-not-found') {
				var hint = (data.suggestions || []).join(', ');
				status.textContent = 'Region not found.' + (hint ? ' Did you mean: ' + hint : '');
				return;
			}
			status.textContent = 'Region ' + data.region + ': ' + data.outcome +
				', pieces ' + data.pieces + ', corridors ' + data.corridors +
				(data.neighbors ? ', near: ' + data.neighbors.join(', ') : '');
			render(data.map);
		})
		.catch(function (err) { status.textContent = 'Request failed: ' + err; });
}

function render(doc) {
	if (!doc) { return; }
	overlays.forEach(function (layer) { map.removeLayer(layer); });
	overlays = [];
	doc.layers.forEach(function (layer) {
		var added = L.geoJSON(layer.features, {style: function () { return layer.style; }}).addTo(map);
		overlays.push(added);
	});
	if (overlays.length > 0) { map.fitBounds(overlays[0].getBounds()); }
	var legend = document.getElementById('legend');
	legend.innerHTML = '';
	(doc.legend || []).forEach(function (entry) {
		var item = document.createElement('label');
		var swatch = document.createElement('span');
		swatch.style.background = entry.color;
		item.appendChild(swatch);
		item.appendChild(document.createTextNode(entry.label + ' '));
		legend.appendChild(item);
	});
}

function download(url) {
	var status = document.getElementById('status');
	status.textContent = 'Exporting...';
	fetch(url, {method: 'POST', body: formBody()})
		.then(function (resp) {
			if (!resp.ok) {
				return resp.json().then(function (data) { throw data.error || resp.statusText; });
			}
			var name = 'coverage-export';
			var cd = resp.headers.get('Content-Disposition') || '';
			var match = cd.match(/filename="(.+)"/);
			if (match) { name = match[1]; }
			return resp.blob().then(function (blob) {
				var link = document.createElement('a');
				link.href = URL.createObjectURL(blob);
				link.download = name;
				link.click();
				URL.revokeObjectURL(link.href);
				status.textContent = 'Saved ' + name;
			});
		})
		.catch(function (err) { status.textContent = 'Export failed: ' + err; });
}
</script>
</body>
</html>
`
