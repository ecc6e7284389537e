package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Render.Width != 1280 || cfg.Render.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.Format != "png" {
		t.Errorf("expected png output, got %s", cfg.Render.Format)
	}
	if cfg.Device.Index != -1 {
		t.Errorf("expected automatic device selection, got index %d", cfg.Device.Index)
	}
	if cfg.Device.Validation {
		t.Error("expected validation to be off by default")
	}
	if cfg.Shaders.Raygen != "perspective.rgen" || cfg.Shaders.Miss != "raytrace.rmiss" || cfg.Shaders.Hit != "raytrace.rchit" {
		t.Errorf("unexpected shader names %+v", cfg.Shaders)
	}
	if cfg.Timeouts.Fence != 10*time.Second {
		t.Errorf("expected fence timeout 10s, got %v", cfg.Timeouts.Fence)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), fileName)

	yamlContent := `
device:
  validation: true
  index: 1

render:
  width: 640
  height: 480
  output: "out.tiff"
  format: "tiff"

scene:
  meshes: ["bunny.ply", "box.glb"]
  allow_compaction: true

shaders:
  dir: "/opt/shaders"

timeouts:
  fence: 500ms

logging:
  level: "debug"
  log_file: "vkprism.log"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !cfg.Device.Validation || cfg.Device.Index != 1 {
		t.Errorf("unexpected device config %+v", cfg.Device)
	}
	if cfg.Render.Width != 640 || cfg.Render.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.Format != "tiff" || cfg.Render.Output != "out.tiff" {
		t.Errorf("unexpected output %s (%s)", cfg.Render.Output, cfg.Render.Format)
	}
	if cfg.Render.FOV != 45 {
		t.Errorf("expected fov to keep its default, got %v", cfg.Render.FOV)
	}
	if len(cfg.Scene.Meshes) != 2 || cfg.Scene.Meshes[1] != "box.glb" || !cfg.Scene.AllowCompaction {
		t.Errorf("unexpected scene config %+v", cfg.Scene)
	}
	if cfg.Shaders.Dir != "/opt/shaders" || cfg.Shaders.Raygen != "perspective.rgen" {
		t.Errorf("unexpected shaders config %+v", cfg.Shaders)
	}
	if cfg.Timeouts.Fence != 500*time.Millisecond {
		t.Errorf("expected fence timeout 500ms, got %v", cfg.Timeouts.Fence)
	}
	if cfg.Logging.LogFile != "vkprism.log" {
		t.Errorf("expected log file 'vkprism.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
render:
  width: not a number
  invalid syntax here
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if err := loadFromFile(Default(), configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/vkprism.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", fileName)

	cfg := Default()
	cfg.Render.Width = 320
	cfg.Timeouts.Fence = 3 * time.Second
	cfg.Scene.Meshes = []string{"a.ply"}
	cfg.Render.Camera = [3]float64{0, 1.5, -4}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Render.Width != 320 || loaded.Timeouts.Fence != 3*time.Second || len(loaded.Scene.Meshes) != 1 {
		t.Errorf("unexpected reloaded config %+v", loaded)
	}
	if loaded.Render.Camera != cfg.Render.Camera {
		t.Errorf("expected camera %v; got %v", cfg.Render.Camera, loaded.Render.Camera)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Render.Width = 0 }},
		{"negative height", func(c *Config) { c.Render.Height = -1 }},
		{"flat fov", func(c *Config) { c.Render.FOV = 180 }},
		{"unknown format", func(c *Config) { c.Render.Format = "jpeg" }},
		{"no meshes", func(c *Config) { c.Scene.Meshes = nil }},
		{"no miss shader", func(c *Config) { c.Shaders.Miss = "" }},
		{"negative timeout", func(c *Config) { c.Timeouts.Fence = -time.Second }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tt.name, err)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	defer func() {
		*flagWidth, *flagOutput, *flagMeshes, *flagDevice = 0, "", "", -1
	}()
	*flagWidth = 800
	*flagOutput = "frame.BMP"
	*flagMeshes = "a.ply,b.gltf"
	*flagDevice = 2

	cfg := Default()
	applyFlags(cfg)

	if cfg.Render.Width != 800 {
		t.Errorf("expected width 800, got %d", cfg.Render.Width)
	}
	if cfg.Render.Output != "frame.BMP" || cfg.Render.Format != "bmp" {
		t.Errorf("unexpected output %s (%s)", cfg.Render.Output, cfg.Render.Format)
	}
	if len(cfg.Scene.Meshes) != 2 || cfg.Scene.Meshes[1] != "b.gltf" {
		t.Errorf("unexpected meshes %v", cfg.Scene.Meshes)
	}
	if cfg.Device.Index != 2 {
		t.Errorf("expected device 2, got %d", cfg.Device.Index)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	os.Chdir(tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, fileName), []byte("render:\n  width: 10\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find config in current directory")
	}
}
