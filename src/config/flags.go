package config

import (
	"flag"
	"strings"
	"time"
)

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagValidation = flag.Bool("validation", false, "Enable the Khronos validation layer")
	flagDevice     = flag.Int("device", -1, "Physical device index")
	flagWidth      = flag.Int("width", 0, "Image width")
	flagHeight     = flag.Int("height", 0, "Image height")
	flagOutput     = flag.String("output", "", "Output image path")
	flagMeshes     = flag.String("meshes", "", "Comma separated mesh files")
	flagShaders    = flag.String("shaders", "", "Compiled shader directory")
	flagTimeout    = flag.Duration("timeout", 0, "Fence wait timeout")
	flagSave       = flag.String("save-config", "", "Write the effective config to this path and exit")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// SavePath returns the path given with --save-config.
func SavePath() string {
	return *flagSave
}

func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagValidation {
		cfg.Device.Validation = true
	}
	if *flagDevice >= 0 {
		cfg.Device.Index = *flagDevice
	}
	if *flagWidth > 0 {
		cfg.Render.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Render.Height = *flagHeight
	}
	if *flagOutput != "" {
		cfg.Render.Output = *flagOutput
		if format := formatOf(*flagOutput); format != "" {
			cfg.Render.Format = format
		}
	}
	if *flagMeshes != "" {
		cfg.Scene.Meshes = strings.Split(*flagMeshes, ",")
	}
	if *flagShaders != "" {
		cfg.Shaders.Dir = *flagShaders
	}
	if *flagTimeout > time.Duration(0) {
		cfg.Timeouts.Fence = *flagTimeout
	}
}

func formatOf(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "png"
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		return "tiff"
	case strings.HasSuffix(lower, ".bmp"):
		return "bmp"
	}
	return ""
}
