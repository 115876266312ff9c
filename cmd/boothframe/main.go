package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cjeanneret/boothframe/internal/config"
	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/distribute"
	"github.com/cjeanneret/boothframe/internal/hw/camera"
	"github.com/cjeanneret/boothframe/internal/hw/gpio"
	"github.com/cjeanneret/boothframe/internal/hw/indicator"
	"github.com/cjeanneret/boothframe/internal/hw/trigger"
	"github.com/cjeanneret/boothframe/internal/journal"
	"github.com/cjeanneret/boothframe/internal/logic/compose"
	"github.com/cjeanneret/boothframe/internal/logic/session"
	"github.com/cjeanneret/boothframe/internal/web"
)

// overrides are the CLI adjustments applied on top of the loaded config.
type overrides struct {
	Countdown     int
	SkipCountdown bool
}

func main() {
	os.Exit(run())
}

// run wires the booth and blocks until it stops. Deferred cleanup (GPIO
// pins, journal) runs before the exit code is returned.
func run() int {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	countdown := flag.Int("countdown", 0, "override countdown seconds (0 = config, max 30)")
	skipCountdown := flag.Bool("skip_countdown", false, "capture immediately, without countdown")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Printf("invalid config path: %v", err)
		return 1
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Printf("load config failed: %v", err)
		return 1
	}

	// Only non-zero values are applied; zero means "use config default"
	if err := validateCLIOverrides(*countdown); err != nil {
		log.Printf("invalid CLI override: %v", err)
		return 1
	}
	applyOverrides(cfg, overrides{Countdown: *countdown, SkipCountdown: *skipCountdown})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Printf("init GPIO failed: %v", err)
		return 1
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing camera")
	cam, err := newCameraFromConfig(gpioDriver, cfg)
	if err != nil {
		log.Printf("init camera failed: %v", err)
		return 1
	}
	debug.Value("Camera type", cfg.Camera.Type)

	debug.Step(3, "Loading frame template")
	comp, err := compose.NewFromConfig(cfg)
	if err != nil {
		log.Printf("load frame failed: %v", err)
		return 1
	}
	debug.PrintStruct("Frame geometry", cfg.Geometry())

	debug.Step(4, "Wiring distribution")
	opts := sessionOptions(cfg, cam, comp)
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Printf("open journal failed: %v", err)
			return 1
		}
		defer func() {
			if err := jnl.Close(); err != nil {
				log.Printf("closing journal failed: %v", err)
			}
		}()
		opts.Recorder = jnl
		debug.Value("Journal", cfg.Journal.Path)
	}
	if broadcaster != nil {
		opts.Observer = broadcaster.Observer()
	}
	pipeline, err := session.NewPipeline(opts)
	if err != nil {
		log.Printf("init pipeline failed: %v", err)
		return 1
	}

	if webPort.port() == 0 && !cfg.Trigger.Enabled {
		return runOnce(ctx, pipeline, os.Stdout)
	}

	// Web clients and the push button share one camera.
	gate := semaphore.NewWeighted(1)
	g, gctx := errgroup.WithContext(ctx)

	if port := webPort.port(); port > 0 {
		webOpts := web.Options{
			Broadcaster: broadcaster,
			Runner:      pipeline,
			Frame: web.FrameInfo{
				FrameGeometry:    cfg.Geometry(),
				CountdownSeconds: cfg.Session.CountdownSeconds,
			},
			Gate:         gate,
			MinInterval:  cfg.MinCaptureInterval(),
			MaxBodyBytes: cfg.Web.MaxBodyBytes,
			ResultTTL:    cfg.ResultTTL(),
			OutputDir:    cfg.Session.OutputDir,
			SharedDir:    cfg.Distribute.SharedDir,
		}
		if jnl != nil {
			webOpts.Journal = jnl
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), webOpts)
		if err != nil {
			log.Printf("init web server failed: %v", err)
			return 1
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Trigger.Enabled {
		lamp := indicator.NewLamp(gpioDriver, indicator.Config{Pin: cfg.Trigger.LEDPin, ActiveLow: cfg.LEDActiveLow()})
		watcher, err := trigger.New(gpioDriver, trigger.Config{
			ButtonPin: cfg.Trigger.ButtonPin,
			Debounce:  cfg.Debounce(),
			Poll:      cfg.PollInterval(),
		}, lamp, gate, pipeline)
		if err != nil {
			log.Printf("init trigger failed: %v", err)
			cancel()
			_ = g.Wait()
			return 1
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Printf("booth stopped: %v", err)
		return 1
	}
	return 0
}

// sessionOptions wires the camera, compositor and enabled distribution
// steps. Disabled steps stay nil.
func sessionOptions(cfg *config.Config, cam session.Camera, comp session.Compositor) session.Options {
	opts := session.Options{
		Camera:           cam,
		Compositor:       comp,
		OutputDir:        cfg.Session.OutputDir,
		ImageExt:         cfg.Session.ImageExt,
		CountdownSeconds: cfg.Session.CountdownSeconds,
	}
	if cfg.PrintEnabled() {
		p := cfg.Distribute.Printer
		opts.Printer = distribute.NewCommandPrinter(p.Command, p.Args, p.Format == "pdf")
	}
	if cfg.ArchiveEnabled() {
		opts.Archiver = distribute.NewSharedStore(cfg.Distribute.SharedDir, cfg.Distribute.PublicBaseURL)
	}
	if cfg.QREnabled() {
		opts.QR = distribute.NewQREncoder(cfg.Distribute.QRSize)
	}
	return opts
}

// runOnce runs a single session, prints its summary and returns the
// process exit code.
func runOnce(ctx context.Context, r trigger.Runner, w io.Writer) int {
	res := r.Run(ctx, session.RunOptions{})
	printResult(w, res)
	if res.Err != nil {
		return 1
	}
	return 0
}

// printResult writes a one-shot session summary.
func printResult(w io.Writer, res *session.Result) {
	fmt.Fprintf(w, "session %s: %s\n", res.ID, res.State)
	if res.PhotoPath != "" {
		framed := "framed"
		if !res.Framed {
			framed = "unframed"
		}
		fmt.Fprintf(w, "photo:   %s (%s)\n", res.PhotoPath, framed)
	}
	d := res.Distribution
	if d.Print.Status != "" {
		fmt.Fprintf(w, "print:   %s\n", d.Print.Status)
	}
	if d.Archive.Status != "" {
		fmt.Fprintf(w, "archive: %s %s\n", d.Archive.Status, d.Archive.Value)
	}
	if d.QR.Status != "" {
		fmt.Fprintf(w, "qr:      %s %s\n", d.QR.Status, d.QR.Value)
	}
	if d.DownloadURL != "" {
		fmt.Fprintf(w, "url:     %s\n", d.DownloadURL)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "error:   %v\n", res.Err)
	}
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(countdown int) error {
	if countdown < 0 || countdown > web.MaxCountdown {
		return fmt.Errorf("countdown must be between 1 and %d, got %d", web.MaxCountdown, countdown)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. SkipCountdown wins over Countdown.
func applyOverrides(cfg *config.Config, o overrides) {
	switch {
	case o.SkipCountdown:
		cfg.Session.CountdownSeconds = 0
	case o.Countdown > 0:
		cfg.Session.CountdownSeconds = o.Countdown
	}
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

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "webcam":
		return camera.NewWebcam(cfg.Camera.DeviceIndex, cfg.SettleDelay(), cfg.Camera.WidthPx, cfg.Camera.HeightPx), nil
	case "gpio_trigger":
		return camera.NewRemoteRelease(
			g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.ShutterDelay(),
			cfg.Camera.WatchDir,
			cfg.CaptureTimeout(),
		), nil
	case "file":
		return camera.NewStill(cfg.Camera.FilePath), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
