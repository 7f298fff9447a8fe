package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cjeanneret/photobooth/internal/config"
	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/export"
	"github.com/cjeanneret/photobooth/internal/hw/camera"
	"github.com/cjeanneret/photobooth/internal/hw/gpio"
	"github.com/cjeanneret/photobooth/internal/hw/trigger"
	"github.com/cjeanneret/photobooth/internal/logic/capture"
	"github.com/cjeanneret/photobooth/internal/logic/filter"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
	"github.com/cjeanneret/photobooth/internal/web"
)

const defaultConfigPath = "configs/default.yaml"

// overrides holds CLI values that replace config settings. Empty strings and
// negative numbers mean "use config".
type overrides struct {
	Filter     string
	Facing     string
	ExportMode string
	ExportDir  string
	DebugLevel int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", defaultConfigPath, "path to config file")
	filterName := flag.String("filter", "", "override initial filter (none, grayscale, sepia, invert)")
	facing := flag.String("facing", "", "override camera facing (user, environment)")
	exportMode := flag.String("export", "", "override export mode (sequence, archive)")
	exportDir := flag.String("out", "", "override export directory")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	shots := flag.Int("shots", 1, "headless mode: number of photos to take before exporting")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			cfgSet = true
		}
	})
	baseCfg, err := loadConfig(*cfgPath, cfgSet)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	o := overrides{
		Filter:     *filterName,
		Facing:     *facing,
		ExportMode: *exportMode,
		ExportDir:  *exportDir,
		DebugLevel: *debugLevel,
	}
	if err := validateCLIOverrides(o); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	cfg := applyOverridesToCopy(baseCfg, o)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing camera")
	provider, err := newCameraFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Facing", cfg.Camera.Facing)

	debug.Step(2, "Creating capture controller")
	booth, err := newController(cfg, provider)
	if err != nil {
		log.Fatalf("init controller failed: %v", err)
	}
	defer booth.Shutdown()

	mode, err := export.ParseMode(cfg.Export.Mode)
	if err != nil {
		log.Fatalf("invalid export mode: %v", err)
	}
	exporter := export.NewDirExporter(cfg.Export.Dir, mode)

	if cfg.Trigger.Enabled {
		debug.Step(3, "Initializing GPIO trigger")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		if err := startTrigger(ctx, cfg, gpioDriver, booth); err != nil {
			log.Fatalf("init trigger failed: %v", err)
		}
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		events, unsub := booth.Subscribe()
		defer unsub()
		go broadcaster.Relay(ctx, events)

		// Closing the streams lets long-lived /events and /status/stream
		// requests finish before the server shutdown deadline.
		go func() {
			<-ctx.Done()
			booth.Shutdown()
			broadcaster.Close()
		}()

		handlers, err := newHandlers(cfg, booth, broadcaster, mode)
		if err != nil {
			log.Fatalf("init web handlers failed: %v", err)
		}
		handlers.Exporter = exporter
		srv := web.NewServer(webAddr, handlers)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	{
		// Headless: take the photos, export them and exit
		paths, err := runBurst(ctx, booth, exporter, *shots)
		if err != nil {
			log.Fatalf("burst failed: %v", err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
	}
}

// loadConfig reads path. Without an explicit -config a missing default file
// falls back to the built-in configuration.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		if err := config.ValidateConfigPath(path); err != nil {
			return nil, err
		}
		return config.Load(path)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// validateCLIOverrides checks the non-empty CLI overrides.
func validateCLIOverrides(o overrides) error {
	if o.Filter != "" {
		if _, ok := filter.Parse(o.Filter); !ok {
			return fmt.Errorf("unknown filter %q", o.Filter)
		}
	}
	if o.Facing != "" {
		if _, err := camera.ParseFacing(o.Facing); err != nil {
			return err
		}
	}
	if o.ExportMode != "" {
		if _, err := export.ParseMode(o.ExportMode); err != nil {
			return err
		}
	}
	if o.DebugLevel > 4 {
		return fmt.Errorf("debug level must be between 0 and 4, got %d", o.DebugLevel)
	}
	return nil
}

// applyOverridesToCopy returns a new config with overrides applied.
// Zero values in overrides mean "use base config".
func applyOverridesToCopy(baseCfg *config.Config, o overrides) *config.Config {
	cfg := *baseCfg
	if o.Filter != "" {
		cfg.Filters.Default = o.Filter
	}
	if o.Facing != "" {
		cfg.Camera.Facing = o.Facing
	}
	if o.ExportMode != "" {
		cfg.Export.Mode = o.ExportMode
	}
	if o.ExportDir != "" {
		cfg.Export.Dir = o.ExportDir
	}
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
	return &cfg
}

// newCameraFromConfig selects a camera provider based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Provider, error) {
	switch cfg.Camera.Type {
	case "pattern":
		p := camera.NewPattern()
		if cfg.Camera.SimulateFailure != "" {
			k, ok := camera.ParseKind(cfg.Camera.SimulateFailure)
			if !ok {
				return nil, fmt.Errorf("unknown simulate_failure kind %q", cfg.Camera.SimulateFailure)
			}
			p.Fail = &k
		}
		return p, nil
	case "still":
		return camera.NewStill(cfg.Camera.FrontImage, cfg.Camera.BackImage), nil
	case "exec":
		devices := make(map[camera.Facing]string, len(cfg.Camera.Devices))
		for name, dev := range cfg.Camera.Devices {
			f, err := camera.ParseFacing(name)
			if err != nil {
				return nil, fmt.Errorf("camera.devices: %w", err)
			}
			devices[f] = dev
		}
		return camera.NewExec(cfg.Camera.Command, devices, cfg.GrabTimeout()), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// newController builds the gallery and the capture controller.
func newController(cfg *config.Config, p camera.Provider) (*capture.Controller, error) {
	order, err := gallery.ParseOrder(cfg.Gallery.Order)
	if err != nil {
		return nil, err
	}
	facing, err := camera.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}
	f, ok := filter.Parse(cfg.Filters.Default)
	if !ok && cfg.Filters.Strict {
		return nil, fmt.Errorf("unknown default filter %q", cfg.Filters.Default)
	}
	return capture.NewController(p, gallery.New(order), capture.Options{
		Filter:            f,
		Facing:            facing,
		IdealWidth:        cfg.Camera.IdealWidth,
		IdealHeight:       cfg.Camera.IdealHeight,
		TickInterval:      cfg.TickInterval(),
		StrictFilters:     cfg.Filters.Strict,
		Compression:       compressionLevel(cfg.Export.PNGCompression),
		DuplicateDistance: cfg.Capture.DuplicateDistance, // nil keeps the controller default
	}), nil
}

func compressionLevel(s string) png.CompressionLevel {
	switch s {
	case "none":
		return png.NoCompression
	case "speed":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// messagesFromConfig converts the configured failure texts to camera.Messages.
func messagesFromConfig(m map[string]string) (camera.Messages, error) {
	msgs := make(camera.Messages, len(m))
	for name, text := range m {
		k, ok := camera.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("messages: unknown failure kind %q", name)
		}
		msgs[k] = text
	}
	return msgs, nil
}

func newHandlers(cfg *config.Config, booth *capture.Controller, b *web.StatusBroadcaster, mode export.Mode) (*web.Handlers, error) {
	msgs, err := messagesFromConfig(cfg.Messages)
	if err != nil {
		return nil, err
	}
	ui := web.NewUIConfig(booth.Filter(), cfg.TickInterval(), mode, booth.Gallery().Order())
	h := web.NewHandlers(booth, b, ui, nil)
	h.Messages = msgs
	return h, nil
}

// startTrigger wires the GPIO button (and lamp when configured) to the booth.
func startTrigger(ctx context.Context, cfg *config.Config, g gpio.Driver, booth *capture.Controller) error {
	button, err := trigger.NewButton(g, trigger.ButtonConfig{
		Pin:      cfg.Trigger.ButtonPin,
		Poll:     cfg.PollInterval(),
		Debounce: cfg.Debounce(),
	}, func() { pressButton(ctx, booth) })
	if err != nil {
		return err
	}
	go func() {
		if err := button.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			debug.Error(fmt.Errorf("button: %w", err))
		}
	}()

	if cfg.Trigger.LampPin > 0 {
		lamp, err := trigger.NewLamp(g, cfg.Trigger.LampPin, cfg.Flash())
		if err != nil {
			return err
		}
		events, unsub := booth.Subscribe()
		go func() {
			defer unsub()
			if err := lamp.Follow(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error(fmt.Errorf("lamp: %w", err))
			}
		}()
	}
	return nil
}

// pressButton starts the camera when idle, otherwise asks for a photo.
func pressButton(ctx context.Context, booth *capture.Controller) {
	if booth.State() == capture.Idle {
		if err := booth.StartSession(ctx); err != nil {
			debug.Error(err)
		}
		return
	}
	if err := booth.RequestCapture(); err != nil {
		debug.Verbose("Button press ignored: %v", err)
	}
}

// runBurst starts a session, takes n photos and exports the gallery.
func runBurst(ctx context.Context, booth *capture.Controller, exp export.Exporter, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shots must be > 0, got %d", n)
	}
	debug.Section("Starting Burst")
	if err := booth.StartSession(ctx); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		debug.Step(i+1, "Countdown")
		if _, err := booth.Capture(ctx); err != nil {
			return nil, err
		}
	}
	if err := booth.StopSession(); err != nil {
		return nil, err
	}

	debug.Section("Exporting")
	paths, err := exp.ExportAll(ctx, booth.Gallery().List())
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	debug.Section("Burst Complete")
	return paths, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
