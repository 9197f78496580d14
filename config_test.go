package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Paths.BoundaryDir != "./geojson_provincias" {
		t.Errorf("boundary dir = %q", cfg.Paths.BoundaryDir)
	}
	if cfg.Pipeline.CorridorWidth != 1.0 {
		t.Errorf("corridor width = %v, want 1.0", cfg.Pipeline.CorridorWidth)
	}
	if cfg.Pipeline.LevelColumn != "Float" {
		t.Errorf("level column = %q, want Float", cfg.Pipeline.LevelColumn)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.S3.Enabled() {
		t.Error("S3 publishing should be disabled without credentials")
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "CORRIDOR_WIDTH=2.5\nNAME_COLUMN=NOMBRE\n# comment line\nHTTP_ADDR=:9090\n"
	if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("CORRIDOR_WIDTH")
		os.Unsetenv("NAME_COLUMN")
		os.Unsetenv("HTTP_ADDR")
	})

	cfg, err := LoadConfig(envPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.CorridorWidth != 2.5 {
		t.Errorf("corridor width = %v, want 2.5", cfg.Pipeline.CorridorWidth)
	}
	if cfg.Pipeline.NameColumn != "NOMBRE" {
		t.Errorf("name column = %q, want NOMBRE", cfg.Pipeline.NameColumn)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http addr = %q, want :9090", cfg.HTTP.Addr)
	}
}

func TestLoadConfig_LocalOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LEVEL_COLUMN=Base\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("LEVEL_COLUMN=Local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LEVEL_COLUMN") })

	cfg, err := LoadConfig(filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.LevelColumn != "Local" {
		t.Errorf("level column = %q, want the .env.local value", cfg.Pipeline.LevelColumn)
	}
}

func TestLoadConfig_RejectsUnknownOrderStrategy(t *testing.T) {
	t.Setenv("ORDER_STRATEGY", "mst")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), ".env")); err == nil {
		t.Fatal("expected error for an unknown order strategy")
	}
}

func TestConfigNewPipeline(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatal(err)
	}

	pipeline := cfg.NewPipeline(nil)
	if pipeline.BoundaryDir != cfg.Paths.BoundaryDir {
		t.Errorf("pipeline boundary dir = %q", pipeline.BoundaryDir)
	}
	if pipeline.Order == nil || pipeline.Order.Name() != "centroid-x" {
		t.Errorf("pipeline order = %v, want centroid-x", pipeline.Order)
	}
	if pipeline.CorridorWidth != cfg.Pipeline.CorridorWidth {
		t.Errorf("pipeline corridor width = %v", pipeline.CorridorWidth)
	}
}
