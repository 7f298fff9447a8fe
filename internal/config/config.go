package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig selects and parameterizes the camera provider.
// Type is one of "pattern", "still" or "exec".
type CameraConfig struct {
	Type        string `yaml:"type"`
	Facing      string `yaml:"facing"`       // "user" (front) or "environment" (back)
	IdealWidth  int    `yaml:"ideal_width"`  // requested frame width (px)
	IdealHeight int    `yaml:"ideal_height"` // requested frame height (px)

	// still: one image file per facing
	FrontImage string `yaml:"front_image"`
	BackImage  string `yaml:"back_image"`

	// exec: grabber command template, {device} and {out} are substituted
	Command       []string          `yaml:"command"`
	Devices       map[string]string `yaml:"devices"` // facing -> device path
	GrabTimeoutMs int               `yaml:"grab_timeout_ms"`

	// SimulateFailure makes the pattern camera fail with a stream error kind
	// (permission_denied, no_device, device_busy, unsupported).
	SimulateFailure string `yaml:"simulate_failure"`
}

// CountdownConfig controls the pre-capture countdown.
type CountdownConfig struct {
	TickMs int `yaml:"tick_ms"` // tick period, 3 ticks per countdown
}

// CaptureConfig tunes the shot itself.
type CaptureConfig struct {
	// DuplicateDistance is the largest dHash distance between consecutive
	// photos reported as a frozen feed. Unset keeps the built-in default,
	// -1 disables the check.
	DuplicateDistance *int `yaml:"duplicate_distance"`
}

// FiltersConfig controls filter selection.
type FiltersConfig struct {
	Default string `yaml:"default"` // filter active at start
	Strict  bool   `yaml:"strict"`  // reject unknown filter names instead of falling back to none
}

// GalleryConfig controls gallery display.
type GalleryConfig struct {
	Order string `yaml:"order"` // newest_last or newest_first
}

// ExportConfig controls photo export.
type ExportConfig struct {
	Mode           string `yaml:"mode"`            // sequence or archive
	Dir            string `yaml:"dir"`             // destination for headless exports
	PNGCompression string `yaml:"png_compression"` // default, none, speed, best
}

// TriggerConfig describes the optional GPIO button and lamp.
type TriggerConfig struct {
	Enabled    bool `yaml:"enabled"`
	ButtonPin  int  `yaml:"button_pin"` // BCM, active LOW with pull-up
	LampPin    int  `yaml:"lamp_pin"`   // BCM, 0 = no lamp
	PollMs     int  `yaml:"poll_ms"`
	DebounceMs int  `yaml:"debounce_ms"`
	FlashMs    int  `yaml:"flash_ms"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Countdown CountdownConfig `yaml:"countdown"`
	Capture   CaptureConfig   `yaml:"capture"`
	Filters   FiltersConfig   `yaml:"filters"`
	Gallery   GalleryConfig   `yaml:"gallery"`
	Export    ExportConfig    `yaml:"export"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	// Messages overrides the stream failure texts, keyed by kind
	// (permission_denied, no_device, device_busy, unsupported).
	Messages map[string]string `yaml:"messages"`
	Defaults DefaultsConfig    `yaml:"defaults"`
}

var validCameraTypes = map[string]bool{"pattern": true, "still": true, "exec": true}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// directory called "configs", without traversal components.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given:
// the synthetic camera and mock GPIO.
func Default() *Config {
	cfg := &Config{Defaults: DefaultsConfig{MockGPIO: true}}
	cfg.Camera.Type = "pattern"
	_ = cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	cfg.Camera.Type = strings.ToLower(strings.TrimSpace(cfg.Camera.Type))
	if cfg.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if !validCameraTypes[cfg.Camera.Type] {
		return fmt.Errorf("camera.type %q is not one of pattern, still, exec", cfg.Camera.Type)
	}
	if cfg.Camera.Facing == "" {
		cfg.Camera.Facing = "user"
	}
	if cfg.Camera.Facing != "user" && cfg.Camera.Facing != "environment" {
		return fmt.Errorf("camera.facing must be user or environment, got %q", cfg.Camera.Facing)
	}
	if cfg.Camera.IdealWidth < 0 || cfg.Camera.IdealHeight < 0 {
		return fmt.Errorf("camera.ideal_width/ideal_height must be >= 0")
	}
	if cfg.Camera.IdealWidth == 0 {
		cfg.Camera.IdealWidth = 640
	}
	if cfg.Camera.IdealHeight == 0 {
		cfg.Camera.IdealHeight = 480
	}
	if cfg.Camera.Type == "still" && cfg.Camera.FrontImage == "" && cfg.Camera.BackImage == "" {
		return fmt.Errorf("camera.front_image or camera.back_image is required for the still camera")
	}
	if cfg.Camera.Type == "exec" && len(cfg.Camera.Command) == 0 {
		return fmt.Errorf("camera.command is required for the exec camera")
	}
	if cfg.Camera.GrabTimeoutMs <= 0 {
		cfg.Camera.GrabTimeoutMs = 5000
	}

	if cfg.Countdown.TickMs <= 0 {
		cfg.Countdown.TickMs = 1000 // one tick per second
	}

	if d := cfg.Capture.DuplicateDistance; d != nil && (*d < -1 || *d > 64) {
		return fmt.Errorf("capture.duplicate_distance must be between -1 and 64, got %d", *d)
	}

	if cfg.Filters.Default == "" {
		cfg.Filters.Default = "none"
	}
	if cfg.Gallery.Order == "" {
		cfg.Gallery.Order = "newest_last"
	}
	if cfg.Gallery.Order != "newest_last" && cfg.Gallery.Order != "newest_first" {
		return fmt.Errorf("gallery.order must be newest_last or newest_first, got %q", cfg.Gallery.Order)
	}

	if cfg.Export.Mode == "" {
		cfg.Export.Mode = "sequence"
	}
	if cfg.Export.Mode != "sequence" && cfg.Export.Mode != "archive" {
		return fmt.Errorf("export.mode must be sequence or archive, got %q", cfg.Export.Mode)
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "photos"
	}
	if cfg.Export.PNGCompression == "" {
		cfg.Export.PNGCompression = "default"
	}
	switch cfg.Export.PNGCompression {
	case "default", "none", "speed", "best":
	default:
		return fmt.Errorf("export.png_compression must be default, none, speed or best, got %q", cfg.Export.PNGCompression)
	}

	if cfg.Trigger.Enabled && cfg.Trigger.ButtonPin <= 0 {
		return fmt.Errorf("trigger.button_pin is required when the trigger is enabled")
	}
	if cfg.Trigger.PollMs <= 0 {
		cfg.Trigger.PollMs = 10
	}
	if cfg.Trigger.DebounceMs <= 0 {
		cfg.Trigger.DebounceMs = 50
	}
	if cfg.Trigger.FlashMs <= 0 {
		cfg.Trigger.FlashMs = 150
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// TickInterval returns the countdown tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Countdown.TickMs) * time.Millisecond
}

// GrabTimeout returns the per-frame timeout of the exec camera.
func (c *Config) GrabTimeout() time.Duration {
	return time.Duration(c.Camera.GrabTimeoutMs) * time.Millisecond
}

// PollInterval returns the button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollMs) * time.Millisecond
}

// Debounce returns how long a button level must hold.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}

// Flash returns the lamp blink duration on capture.
func (c *Config) Flash() time.Duration {
	return time.Duration(c.Trigger.FlashMs) * time.Millisecond
}
