package config

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the configuration file size.
const MaxConfigFileBytes = 1 << 20

// Frame size used for UI geometry when the template artwork is missing.
const (
	FallbackFrameWidth  = 1086
	FallbackFrameHeight = 768
)

// Fit policies understood by the compositor.
const (
	FitStretch = "stretch"
	FitCrop    = "crop"
	FitCover   = "cover"
)

// CameraConfig describes the capture device.
// Type selects a concrete implementation ("webcam", "gpio_trigger", "file").
type CameraConfig struct {
	Type             string `yaml:"type"`
	DeviceIndex      int    `yaml:"device_index"`       // webcam: OpenCV device index
	SettleMs         int    `yaml:"settle_ms"`          // webcam: auto exposure settle time
	WidthPx          int    `yaml:"width_px"`           // webcam: requested frame width (0 = driver default)
	HeightPx         int    `yaml:"height_px"`          // webcam: requested frame height (0 = driver default)
	FocusPin         int    `yaml:"focus_pin"`          // gpio_trigger: remote FOCUS line
	ShutterPin       int    `yaml:"shutter_pin"`        // gpio_trigger: remote SHUTTER line
	FocusDelayMs     int    `yaml:"focus_delay_ms"`     // gpio_trigger: autofocus delay
	ShutterDelayMs   int    `yaml:"shutter_delay_ms"`   // gpio_trigger: shutter hold time
	WatchDir         string `yaml:"watch_dir"`          // gpio_trigger: tethering hot folder
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms"` // gpio_trigger: wait for the tethered file
	FilePath         string `yaml:"file_path"`          // file: still image returned on every capture
}

// SlotConfig is the rectangle of the template where the photo goes.
type SlotConfig struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Rect returns the slot as an image rectangle.
func (s SlotConfig) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// FrameConfig points at the template artwork.
// Width, Height and Present are filled by Load from the template header.
type FrameConfig struct {
	Template string     `yaml:"template"`
	Slot     SlotConfig `yaml:"slot"`

	Width   int  `yaml:"-"`
	Height  int  `yaml:"-"`
	Present bool `yaml:"-"`
}

// ComposeConfig controls how the capture is fitted and styled.
type ComposeConfig struct {
	Fit       string `yaml:"fit"`        // stretch | crop | cover
	Mirror    bool   `yaml:"mirror"`     // flip horizontally before fitting
	Filter    string `yaml:"filter"`     // none | noir
	DarkTone  string `yaml:"dark_tone"`  // noir: color for black (#rrggbb)
	LightTone string `yaml:"light_tone"` // noir: color for white (#rrggbb)
	Quality   int    `yaml:"quality"`    // JPEG quality 1-100
	Kernel    string `yaml:"kernel"`     // nearest | bilinear | catmullrom
}

// SessionConfig holds the per-session pipeline parameters.
type SessionConfig struct {
	CountdownSeconds int    `yaml:"countdown_seconds"`
	OutputDir        string `yaml:"output_dir"`
	ImageExt         string `yaml:"image_ext"` // jpg | png
}

// PrinterConfig describes the print command. The image (or PDF) path is
// appended as the last argument.
type PrinterConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Format  string   `yaml:"format"` // image | pdf
}

// DistributeConfig toggles the best-effort distribution steps.
// Nil toggles mean enabled.
type DistributeConfig struct {
	Print         *bool         `yaml:"print,omitempty"`
	Archive       *bool         `yaml:"archive,omitempty"`
	QR            *bool         `yaml:"qr,omitempty"`
	SharedDir     string        `yaml:"shared_dir"`
	PublicBaseURL string        `yaml:"public_base_url"`
	Printer       PrinterConfig `yaml:"printer"`
	QRSize        int           `yaml:"qr_size"` // >0 total pixels, <0 pixels per module
}

// TriggerConfig is the optional physical push button.
type TriggerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ButtonPin  int    `yaml:"button_pin"`  // BCM pin, pulled up, active LOW
	LEDPin     int    `yaml:"led_pin"`     // 0 = no LED
	LEDActive  string `yaml:"led_active"`  // high | low (LED wired between 3V3 and the pin)
	DebounceMs int    `yaml:"debounce_ms"` // minimum time between two accepted presses
	PollMs     int    `yaml:"poll_ms"`
}

// JournalConfig enables the SQLite session audit trail.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebConfig tunes the HTTP surface.
type WebConfig struct {
	MaxBodyBytes  int64 `yaml:"max_body_bytes"`
	MinIntervalMs int   `yaml:"min_interval_ms"` // minimum time between two POST /capture
	ResultTTLMin  int   `yaml:"result_ttl_min"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
// It is treated as immutable once Load returns.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Frame      FrameConfig      `yaml:"frame"`
	Compose    ComposeConfig    `yaml:"compose"`
	Session    SessionConfig    `yaml:"session"`
	Distribute DistributeConfig `yaml:"distribute"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Journal    JournalConfig    `yaml:"journal"`
	Web        WebConfig        `yaml:"web"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly
// inside a configs/ directory, or that contain traversal segments.
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
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is larger than %d bytes", path, MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.resolveFrame(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "webcam", "file":
	case "gpio_trigger":
		if c.Camera.WatchDir == "" {
			return fmt.Errorf("camera.watch_dir is required for gpio_trigger")
		}
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.Type == "file" && c.Camera.FilePath == "" {
		return fmt.Errorf("camera.file_path is required for the file camera")
	}
	if c.Camera.DeviceIndex < 0 {
		return fmt.Errorf("camera.device_index must be >= 0, got %d", c.Camera.DeviceIndex)
	}
	if c.Camera.SettleMs <= 0 {
		c.Camera.SettleMs = 500 // auto exposure settle
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 10000
	}

	switch c.Compose.Fit {
	case "":
		c.Compose.Fit = FitCover
	case FitStretch, FitCrop, FitCover:
	default:
		return fmt.Errorf("compose.fit must be one of stretch, crop, cover, got %q", c.Compose.Fit)
	}
	switch c.Compose.Filter {
	case "":
		c.Compose.Filter = "none"
	case "none", "noir":
	default:
		return fmt.Errorf("compose.filter must be none or noir, got %q", c.Compose.Filter)
	}
	if c.Compose.DarkTone == "" {
		c.Compose.DarkTone = "#1c1a17"
	}
	if c.Compose.LightTone == "" {
		c.Compose.LightTone = "#f4ecd8"
	}
	if c.Compose.Quality == 0 {
		c.Compose.Quality = 95
	}
	if c.Compose.Quality < 1 || c.Compose.Quality > 100 {
		return fmt.Errorf("compose.quality must be between 1 and 100, got %d", c.Compose.Quality)
	}
	switch c.Compose.Kernel {
	case "":
		c.Compose.Kernel = "catmullrom"
	case "nearest", "bilinear", "catmullrom":
	default:
		return fmt.Errorf("compose.kernel must be nearest, bilinear or catmullrom, got %q", c.Compose.Kernel)
	}

	if c.Session.CountdownSeconds < 0 {
		return fmt.Errorf("session.countdown_seconds must be >= 0, got %d", c.Session.CountdownSeconds)
	}
	if c.Session.OutputDir == "" {
		c.Session.OutputDir = "captures"
	}
	c.Session.ImageExt = strings.TrimPrefix(strings.ToLower(c.Session.ImageExt), ".")
	switch c.Session.ImageExt {
	case "":
		c.Session.ImageExt = "jpg"
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("session.image_ext must be jpg or png, got %q", c.Session.ImageExt)
	}

	if c.Distribute.SharedDir == "" {
		c.Distribute.SharedDir = "shared"
	}
	if c.Distribute.PublicBaseURL == "" {
		c.Distribute.PublicBaseURL = "http://127.0.0.1:8080"
	}
	c.Distribute.PublicBaseURL = strings.TrimRight(c.Distribute.PublicBaseURL, "/")
	if c.Distribute.Printer.Command == "" {
		c.Distribute.Printer.Command = "lp"
	}
	switch c.Distribute.Printer.Format {
	case "":
		c.Distribute.Printer.Format = "image"
	case "image", "pdf":
	default:
		return fmt.Errorf("distribute.printer.format must be image or pdf, got %q", c.Distribute.Printer.Format)
	}
	if c.Distribute.QRSize == 0 {
		c.Distribute.QRSize = -10 // 10 px per module
	}

	if c.Trigger.Enabled && c.Trigger.ButtonPin <= 0 {
		return fmt.Errorf("trigger.button_pin is required when the trigger is enabled")
	}
	switch c.Trigger.LEDActive {
	case "":
		c.Trigger.LEDActive = "high"
	case "high", "low":
	default:
		return fmt.Errorf("trigger.led_active must be high or low, got %q", c.Trigger.LEDActive)
	}
	if c.Trigger.DebounceMs <= 0 {
		c.Trigger.DebounceMs = 2000
	}
	if c.Trigger.PollMs <= 0 {
		c.Trigger.PollMs = 20
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.Session.OutputDir, "journal.db")
	}

	if c.Web.MaxBodyBytes <= 0 {
		c.Web.MaxBodyBytes = 1 << 20
	}
	if c.Web.MinIntervalMs < 0 {
		return fmt.Errorf("web.min_interval_ms must be >= 0, got %d", c.Web.MinIntervalMs)
	}
	if c.Web.ResultTTLMin <= 0 {
		c.Web.ResultTTLMin = 30
	}
	return nil
}

// resolveFrame reads the template header and checks that the slot fits.
// A missing template is not an error: the booth runs without a frame.
// Without a configured template the slot is unused and not checked.
func (c *Config) resolveFrame() error {
	c.Frame.Width, c.Frame.Height = FallbackFrameWidth, FallbackFrameHeight
	if c.Frame.Template == "" {
		return nil
	}

	slot := c.Frame.Slot
	if slot.X < 0 || slot.Y < 0 {
		return fmt.Errorf("frame.slot origin must be >= 0, got (%d,%d)", slot.X, slot.Y)
	}
	if slot.Width <= 0 || slot.Height <= 0 {
		return fmt.Errorf("frame.slot size must be > 0, got %dx%d", slot.Width, slot.Height)
	}

	f, err := os.Open(c.Frame.Template)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open frame template: %w", err)
	}
	defer f.Close()

	hdr, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode frame template header: %w", err)
	}
	if !slot.Rect().In(image.Rect(0, 0, hdr.Width, hdr.Height)) {
		return fmt.Errorf("frame.slot (%d,%d %dx%d) exceeds template bounds %dx%d",
			slot.X, slot.Y, slot.Width, slot.Height, hdr.Width, hdr.Height)
	}
	c.Frame.Width, c.Frame.Height = hdr.Width, hdr.Height
	c.Frame.Present = true
	return nil
}

// PrintEnabled reports whether composites are sent to the printer.
func (c *Config) PrintEnabled() bool { return enabled(c.Distribute.Print) }

// ArchiveEnabled reports whether composites are copied to the shared store.
func (c *Config) ArchiveEnabled() bool { return enabled(c.Distribute.Archive) }

// QREnabled reports whether a QR code is generated for the download link.
func (c *Config) QREnabled() bool { return enabled(c.Distribute.QR) }

func enabled(b *bool) bool { return b == nil || *b }

// LEDActiveLow reports whether the busy LED lights when its pin is LOW.
func (c *Config) LEDActiveLow() bool { return c.Trigger.LEDActive == "low" }

// SettleDelay returns the webcam auto exposure settle time.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Camera.SettleMs) * time.Millisecond
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// CaptureTimeout returns how long the tethered camera may take to deliver a file.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// Debounce returns the minimum delay between two accepted button presses.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Trigger.DebounceMs) * time.Millisecond
}

// PollInterval returns the button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollMs) * time.Millisecond
}

// MinCaptureInterval returns the minimum delay between two web captures.
func (c *Config) MinCaptureInterval() time.Duration {
	return time.Duration(c.Web.MinIntervalMs) * time.Millisecond
}

// ResultTTL returns how long finished session results stay queryable.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Web.ResultTTLMin) * time.Minute
}

// FrameGeometry describes the slot relative to the frame, for UI overlays.
type FrameGeometry struct {
	Present     bool    `json:"present"`
	AspectRatio float64 `json:"frame_ratio"`
	SlotLeft    float64 `json:"slot_left"`
	SlotTop     float64 `json:"slot_top"`
	SlotWidth   float64 `json:"slot_width"`
	SlotHeight  float64 `json:"slot_height"`
}

// Geometry returns the slot position as fractions of the frame size.
func (c *Config) Geometry() FrameGeometry {
	w, h := float64(c.Frame.Width), float64(c.Frame.Height)
	g := FrameGeometry{Present: c.Frame.Present, AspectRatio: 1, SlotWidth: 1, SlotHeight: 1}
	if h > 0 {
		g.AspectRatio = w / h
		g.SlotTop = float64(c.Frame.Slot.Y) / h
		g.SlotHeight = float64(c.Frame.Slot.Height) / h
	}
	if w > 0 {
		g.SlotLeft = float64(c.Frame.Slot.X) / w
		g.SlotWidth = float64(c.Frame.Slot.Width) / w
	}
	return g
}
