package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jpcarrera/go-coverage-unifier/handlers"
	"github.com/jpcarrera/go-coverage-unifier/tui"
	"github.com/tj/go-spin"
	"github.com/twpayne/go-geos"
)

func main() {
	configPath := flag.String("config", ".env", "Path to config file")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	args := flag.Args()
	if *help || len(args) == 0 {
		showHelp()
		os.Exit(0)
	}

	command := args[0]
	switch command {
	case "run":
		cmdRun(args[1:], configPath)
	case "batch":
		cmdBatch(args[1:], configPath)
	case "serve":
		cmdServe(args[1:], configPath)
	case "menu":
		cmdMenu(args[1:], configPath)
	case "check":
		cmdCheck(args[1:], configPath)
	default:
		log.Printf("Unknown command: %s", command)
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("coverage-unifier: match a parroquia, intersect coverage polygons and unify the result")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coverage-unifier [-config .env] <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run     Analyze one region and write KMZ/shapefile artifacts")
	fmt.Println("  batch   Analyze a list of regions in parallel")
	fmt.Println("  serve   Start the web form and API server")
	fmt.Println("  menu    Interactive selection menu")
	fmt.Println("  check   Validate (and optionally repair) GeoJSON geometry files")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  coverage-unifier run -province AZUAY -region cuenca -coverage claro_4g.zip")
	fmt.Println("  coverage-unifier batch -province LOJA -coverage cnt_3g.zip -regions parroquias.txt")
	fmt.Println("  coverage-unifier check -repair boundaries.geojson")
}

func cmdRun(args []string, configPath *string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	province := fs.String("province", "", "Province holding the region")
	region := fs.String("region", "", "Parroquia to analyze")
	operator := fs.String("operator", "", "Operator (MOVISTAR, CLARO, CNT)")
	technology := fs.String("technology", "", "Technology (2G, 3G, 4G)")
	year := fs.String("year", "", "Coverage year")
	level := fs.String("level", "", "Coverage level (high, medium, low or a dBm value)")
	coverage := fs.String("coverage", "", "Coverage shapefile or zip archive")
	formats := fs.String("formats", "kmz,shapefile", "Artifacts to write")
	publish := fs.Bool("publish", false, "Publish artifacts to the configured bucket")
	fs.Parse(reorderFlagsFirst(args))

	if *province == "" || *region == "" || *coverage == "" {
		log.Printf("run requires -province, -region and -coverage")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	pipeline := cfg.NewPipeline(nil)

	req := handlers.RunRequest{
		Province:     *province,
		Region:       *region,
		Operator:     *operator,
		Technology:   *technology,
		Year:         *year,
		Level:        *level,
		CoveragePath: *coverage,
	}
	if err := executeRun(cfg, pipeline, req, splitFormats(*formats), *publish); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func cmdBatch(args []string, configPath *string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	province := fs.String("province", "", "Province holding the regions")
	operator := fs.String("operator", "", "Operator (MOVISTAR, CLARO, CNT)")
	technology := fs.String("technology", "", "Technology (2G, 3G, 4G)")
	year := fs.String("year", "", "Coverage year")
	level := fs.String("level", "", "Coverage level (high, medium, low or a dBm value)")
	coverage := fs.String("coverage", "", "Coverage shapefile or zip archive")
	formats := fs.String("formats", "kmz", "Artifacts to write per region")
	publish := fs.Bool("publish", false, "Publish artifacts to the configured bucket")
	regionsFile := fs.String("regions", "", "File with one region name per line")
	workers := fs.Int("workers", 0, "Parallel workers (default from config)")
	fs.Parse(reorderFlagsFirst(args))

	names := fs.Args()
	if *regionsFile != "" {
		fromFile, err := readRegionList(*regionsFile)
		if err != nil {
			log.Fatalf("Failed to read region list: %v", err)
		}
		names = append(names, fromFile...)
	}
	if len(names) == 0 {
		log.Printf("batch requires at least one region, positional or via -regions")
		fs.Usage()
		os.Exit(1)
	}
	if *province == "" || *coverage == "" {
		log.Printf("batch requires -province and -coverage")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	pipeline := cfg.NewPipeline(nil)

	numWorkers := *workers
	if numWorkers <= 0 {
		numWorkers = cfg.Service.Workers
	}
	if numWorkers > len(names) {
		numWorkers = len(names)
	}

	log.Printf("Batch run: %d regions, %d workers", len(names), numWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	workChan := make(chan string, len(names))
	for _, name := range names {
		workChan <- name
	}
	close(workChan)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed, succeeded []string

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range workChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				req := handlers.RunRequest{
					Province:     *province,
					Region:       name,
					Operator:     *operator,
					Technology:   *technology,
					Year:         *year,
					Level:        *level,
					CoveragePath: *coverage,
				}
				err := executeRun(cfg, pipeline, req, splitFormats(*formats), *publish)

				mu.Lock()
				if err != nil {
					log.Printf("Region %s failed: %v", name, err)
					failed = append(failed, name)
				} else {
					succeeded = append(succeeded, name)
				}
				mu.Unlock()
			}
		}()
	}

	stopSpinner := make(chan struct{})
	go func() {
		s := spin.New()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopSpinner:
				return
			case <-ticker.C:
				mu.Lock()
				finished := len(succeeded) + len(failed)
				mu.Unlock()
				fmt.Printf("\r%s %d/%d regions", s.Next(), finished, len(names))
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(stopSpinner)
		fmt.Println()
		log.Printf("Batch complete: %d succeeded, %d failed", len(succeeded), len(failed))
		if len(failed) > 0 {
			log.Printf("Failed regions: %s", strings.Join(failed, ", "))
			os.Exit(1)
		}
	case sig := <-sigChan:
		close(stopSpinner)
		fmt.Println()
		log.Printf("Received %v, waiting for running regions", sig)
		cancel()
		<-done
		os.Exit(1)
	}
}

func cmdServe(args []string, configPath *string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides config)")
	fs.Parse(reorderFlagsFirst(args))

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	collector, err := NewCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	var publisher *Publisher
	if cfg.S3.Enabled() {
		publisher, err = NewPublisher(cfg.S3)
		if err != nil {
			log.Fatalf("Failed to initialize the artifact publisher: %v", err)
		}
	}

	server := NewServer(cfg, cfg.NewPipeline(collector), collector, publisher)

	log.Printf("=== Starting Coverage Unifier Server ===")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		log.Fatalf("Server failed to start: %v", err)
	case sig := <-sigChan:
		log.Printf("Received %v, shutting down", sig)
	}
}

func cmdMenu(args []string, configPath *string) {
	fs := flag.NewFlagSet("menu", flag.ExitOnError)
	formats := fs.String("formats", "kmz,shapefile", "Artifacts to write")
	publish := fs.Bool("publish", false, "Publish artifacts to the configured bucket")
	fs.Parse(reorderFlagsFirst(args))

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	selection, err := tui.Run(tui.Options{
		Provinces:    handlers.ProvinceNames(),
		Operators:    handlers.Operators,
		Technologies: handlers.Technologies,
		Years:        handlers.Years,
		Levels:       levelChoices(),
		CoverageDir:  cfg.Paths.CoverageDir,
	})
	if err != nil {
		log.Fatalf("Menu failed: %v", err)
	}
	if selection == nil {
		fmt.Println("Cancelled.")
		return
	}

	pipeline := cfg.NewPipeline(nil)
	req := handlers.RunRequest{
		Province:     selection.Province,
		Region:       selection.Region,
		Operator:     selection.Operator,
		Technology:   selection.Technology,
		Year:         selection.Year,
		Level:        selection.Level,
		CoveragePath: selection.CoveragePath,
	}
	if err := executeRun(cfg, pipeline, req, splitFormats(*formats), *publish); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func cmdCheck(args []string, configPath *string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	repair := fs.Bool("repair", false, "Write a repaired copy next to each broken input")
	fs.Parse(reorderFlagsFirst(args))

	files := fs.Args()
	if len(files) == 0 {
		log.Printf("check requires at least one GeoJSON file")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	broken := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", file, err)
		}
		geom, err := geos.NewGeomFromGeoJSON(string(data))
		if err != nil {
			log.Fatalf("Failed to parse %s: %v", file, err)
		}

		issues := handlers.CheckGeometries(geom)
		if len(issues) == 0 {
			fmt.Printf("%s: OK\n", file)
			geom.Destroy()
			continue
		}
		broken++
		for _, issue := range issues {
			fmt.Printf("%s: geometry %d: %s\n", file, issue.Ref, issue.Reason)
		}

		if *repair {
			repaired, refs, err := handlers.RepairGeometries(geom, cfg.Service.Workers)
			if err != nil {
				geom.Destroy()
				log.Fatalf("Repair failed for %s: %v", file, err)
			}
			outPath := strings.TrimSuffix(file, filepath.Ext(file)) + "_repaired.geojson"
			if err := os.WriteFile(outPath, []byte(repaired.ToGeoJSON(-1)), 0644); err != nil {
				repaired.Destroy()
				geom.Destroy()
				log.Fatalf("Failed to write %s: %v", outPath, err)
			}
			fmt.Printf("%s: repaired %d geometries -> %s\n", file, len(refs), outPath)
			repaired.Destroy()
		}
		geom.Destroy()
	}

	if broken > 0 && !*repair {
		os.Exit(1)
	}
}

// executeRun runs one analysis and writes the requested artifacts into the
// output directory. Used by the run, batch and menu commands.
func executeRun(cfg *Config, pipeline *handlers.Pipeline, req handlers.RunRequest, formats []string, publish bool) error {
	report, err := pipeline.Run(req)
	if err != nil {
		if report != nil {
			if len(report.Suggestions) > 0 {
				fmt.Printf("Region %q not found. Did you mean:\n", req.Region)
				for _, suggestion := range report.Suggestions {
					fmt.Println("  -", suggestion)
				}
			}
			report.Destroy()
		}
		return err
	}
	defer report.Destroy()

	fmt.Printf("Region %s: %s, %d pieces, %d corridors (level %s, %.0f dBm)\n",
		report.RegionName, report.Outcome, len(report.Pieces), len(report.Corridors),
		report.Level.Name, report.Level.DBm)
	if len(report.Neighbors) > 0 {
		fmt.Println("Nearby regions:", strings.Join(report.Neighbors, ", "))
	}

	if report.Unified == nil {
		fmt.Println("Nothing to export for", report.RegionName)
		return nil
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, format := range formats {
		var buf bytes.Buffer
		var name string
		switch format {
		case "kmz":
			if err := pipeline.WriteKMZ(&buf, report); err != nil {
				return err
			}
			name = report.ArtifactName(".kmz")
		case "shapefile", "shp", "zip":
			if err := pipeline.WriteShapefileZip(&buf, report); err != nil {
				return err
			}
			name = report.ArtifactName(".zip")
		default:
			return fmt.Errorf("unknown artifact format %q", format)
		}

		outPath := filepath.Join(cfg.Paths.OutputDir, name)
		if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Println("Wrote", outPath)
		written = append(written, outPath)
	}

	if publish {
		if !cfg.S3.Enabled() {
			return fmt.Errorf("publishing requested but S3 is not configured")
		}
		publisher, err := NewPublisher(cfg.S3)
		if err != nil {
			return err
		}
		ctx := context.Background()
		for _, artifact := range written {
			name := report.ID + "/" + filepath.Base(artifact)
			url, err := publisher.PublishFile(ctx, artifact, name)
			if err != nil {
				return err
			}
			if ok, verifyErr := publisher.ObjectExists(ctx, name); verifyErr != nil {
				log.Printf("Could not verify published artifact %s: %v", name, verifyErr)
			} else if !ok {
				return fmt.Errorf("published artifact %s is missing from the bucket", name)
			}
			fmt.Println("Published", url)
		}
	}

	return nil
}

func splitFormats(formats string) []string {
	var out []string
	for _, format := range strings.Split(formats, ",") {
		format = strings.TrimSpace(strings.ToLower(format))
		if format != "" {
			out = append(out, format)
		}
	}
	return out
}

func readRegionList(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, nil
}

func levelChoices() []tui.Choice {
	choices := make([]tui.Choice, 0, len(handlers.CoverageLevels))
	for _, level := range handlers.CoverageLevels {
		choices = append(choices, tui.Choice{
			Label: fmt.Sprintf("%s (%.0f dBm)", level.Name, level.DBm),
			Value: level.Name,
		})
	}
	return choices
}

// reorderFlagsFirst moves flag arguments before positional arguments so the
// flag package parses them correctly. It stops at the first non-flag arg
// otherwise, which breaks "batch CUENCA GUALACEO -province AZUAY".
func reorderFlagsFirst(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
