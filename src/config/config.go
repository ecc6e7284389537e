// Package config handles renderer configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds all renderer settings.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Render   RenderConfig   `yaml:"render"`
	Scene    SceneConfig    `yaml:"scene"`
	Shaders  ShadersConfig  `yaml:"shaders"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DeviceConfig struct {
	Validation bool `yaml:"validation"`
	// Index picks a physical device; negative means the first capable one.
	Index int `yaml:"index"`
}

type RenderConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FOV    float64 `yaml:"fov"`
	Output string  `yaml:"output"`
	Format string  `yaml:"format"` // png, tiff or bmp
	// Camera is the world position of the camera, looking down +z.
	Camera [3]float64 `yaml:"camera"`
}

type SceneConfig struct {
	Meshes          []string `yaml:"meshes"`
	AllowCompaction bool     `yaml:"allow_compaction"`
}

// ShadersConfig names compiled shaders without the .spv extension.
type ShadersConfig struct {
	Dir    string `yaml:"dir"`
	Raygen string `yaml:"raygen"`
	Miss   string `yaml:"miss"`
	Hit    string `yaml:"hit"`
}

type TimeoutsConfig struct {
	Fence time.Duration `yaml:"fence"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Validation: false,
			Index:      -1,
		},
		Render: RenderConfig{
			Width:  1280,
			Height: 720,
			FOV:    45,
			Output: "render.png",
			Format: "png",
		},
		Scene: SceneConfig{
			Meshes: []string{"scene.ply"},
		},
		Shaders: ShadersConfig{
			Dir:    "shaders",
			Raygen: "perspective.rgen",
			Miss:   "raytrace.rmiss",
			Hit:    "raytrace.rchit",
		},
		Timeouts: TimeoutsConfig{
			Fence: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate rejects settings the renderer cannot run with.
func (c *Config) Validate() error {
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Render.Width, c.Render.Height)
	}
	if c.Render.FOV <= 0 || c.Render.FOV >= 180 {
		return fmt.Errorf("%w: fov %v", ErrInvalidConfig, c.Render.FOV)
	}
	switch c.Render.Format {
	case "png", "tiff", "bmp":
	default:
		return fmt.Errorf("%w: output format %q", ErrInvalidConfig, c.Render.Format)
	}
	if len(c.Scene.Meshes) == 0 {
		return fmt.Errorf("%w: no meshes", ErrInvalidConfig)
	}
	if c.Shaders.Raygen == "" || c.Shaders.Miss == "" || c.Shaders.Hit == "" {
		return fmt.Errorf("%w: missing shader name", ErrInvalidConfig)
	}
	if c.Timeouts.Fence < 0 {
		return fmt.Errorf("%w: fence timeout %v", ErrInvalidConfig, c.Timeouts.Fence)
	}
	return nil
}
