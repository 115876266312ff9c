package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/boothframe/internal/debug"
)

// Camera acquires one raw frame.
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Compositor frames a capture and persists images.
type Compositor interface {
	Save(path string, img image.Image) error
	ComposeTo(photo image.Image, dst string) error
	Framed() bool
}

// Printer dispatches a photo; it reports failure as false, never as an error.
type Printer interface {
	Print(ctx context.Context, path string) bool
}

// Archiver copies a photo to the shared store and links to the copy.
type Archiver interface {
	Store(src string) (string, error)
	Link(path string) (string, error)
}

// QREncoder renders text as a QR image at dest.
type QREncoder interface {
	Encode(text, dest string) (string, error)
}

// Recorder keeps an audit trail of finished sessions.
type Recorder interface {
	Record(ctx context.Context, r *Result) error
}

// Options wires a Pipeline. Printer, Archiver, QR and Recorder may be nil
// (disabled).
type Options struct {
	Camera     Camera
	Compositor Compositor
	Printer    Printer
	Archiver   Archiver
	QR         QREncoder
	Recorder   Recorder
	Observer   Observer

	OutputDir        string
	ImageExt         string // "jpg" or "png"
	CountdownSeconds int
}

// RunOptions tune one session.
type RunOptions struct {
	// ID overrides the generated session ID.
	ID            string
	SkipCountdown bool
	// Countdown overrides the configured seconds when > 0.
	Countdown int
}

// Pipeline runs photo sessions: countdown, capture, composite, distribute.
// A Pipeline holds no per-session state; callers serialise sessions that
// share a camera.
type Pipeline struct {
	opts Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewPipeline creates a pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Camera == nil {
		return nil, errors.New("session: camera is required")
	}
	if opts.Compositor == nil {
		return nil, errors.New("session: compositor is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "captures"
	}
	opts.ImageExt = strings.TrimPrefix(opts.ImageExt, ".")
	if opts.ImageExt == "" {
		opts.ImageExt = "jpg"
	}
	if opts.CountdownSeconds < 0 {
		return nil, fmt.Errorf("session: countdown_seconds must be >= 0, got %d", opts.CountdownSeconds)
	}
	return &Pipeline{
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// NewID returns a fresh session ID, for callers that report it before Run.
func (p *Pipeline) NewID() string { return p.newID() }

// Run executes one session and always returns a Result. The context is
// observed during the countdown only: once capturing starts the session
// runs to completion.
func (p *Pipeline) Run(ctx context.Context, ro RunOptions) *Result {
	res := &Result{ID: ro.ID, StartedAt: p.now()}
	if res.ID == "" {
		res.ID = p.newID()
	}
	m := NewMachine(res.ID, func(ev Event) {
		if ev.Remaining > 0 {
			debug.Tick(ev.SessionID, ev.Remaining)
		} else {
			debug.State(ev.SessionID, string(ev.State))
		}
		if p.opts.Observer != nil {
			p.opts.Observer(ev)
		}
	})

	p.run(ctx, m, ro, res)

	res.State = m.State()
	res.FinishedAt = p.now()
	p.record(ctx, res)
	return res
}

func (p *Pipeline) run(ctx context.Context, m *Machine, ro RunOptions, res *Result) {
	debug.Section("Session " + res.ID)

	if err := p.countdown(ctx, m, ro); err != nil {
		p.enter(m, Cancelled)
		res.Err = stageErr(StageCountdown, err)
		debug.Info("Session %s cancelled before capture", res.ID)
		return
	}

	// Capture: fatal on failure.
	p.enter(m, Capturing)
	img, err := p.opts.Camera.Capture(context.WithoutCancel(ctx))
	if err == nil && (img == nil || img.Bounds().Empty()) {
		err = ErrEmptyFrame
	}
	if err != nil {
		p.enter(m, Errored)
		res.Err = stageErr(StageCapture, err)
		debug.Error(res.Err)
		return
	}
	res.Stamp = p.now().Format("20060102_150405")
	stem := p.stem(res.Stamp, res.ID)
	res.RawPath = filepath.Join(p.opts.OutputDir, stem+"_raw."+p.opts.ImageExt)
	if err := p.opts.Compositor.Save(res.RawPath, img); err != nil {
		p.enter(m, Errored)
		res.RawPath = ""
		res.Err = stageErr(StageCapture, fmt.Errorf("persist raw capture: %w", err))
		debug.Error(res.Err)
		return
	}
	debug.Value("Raw capture", res.RawPath)

	// Composite: degrade to the raw capture.
	p.enter(m, Compositing)
	photo := filepath.Join(p.opts.OutputDir, stem+"."+p.opts.ImageExt)
	if err := p.compose(img, photo); err != nil {
		res.ComposeErr = stageErr(StageCompose, err)
		debug.Warn("Compose warning: %v; delivering raw capture", err)
		res.PhotoPath = res.RawPath
	} else {
		res.PhotoPath = photo
		res.Framed = p.opts.Compositor.Framed()
	}
	debug.Value("Photo", res.PhotoPath)

	// Distribute: every step is isolated.
	p.enter(m, Distributing)
	res.Distribution = p.distribute(ctx, res.PhotoPath)

	p.enter(m, Done)
	debug.Summary("Session " + res.ID + " done")
}

// countdown blocks for the configured seconds, one tick per second.
func (p *Pipeline) countdown(ctx context.Context, m *Machine, ro RunOptions) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	n := p.opts.CountdownSeconds
	if ro.Countdown > 0 {
		n = ro.Countdown
	}
	if ro.SkipCountdown || n == 0 {
		return nil
	}
	p.enter(m, CountingDown)
	for remaining := n; remaining > 0; remaining-- {
		m.Tick(remaining)
		if err := p.sleep(ctx, time.Second); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
	return nil
}

// stem returns the filename stem for a capture taken at stamp. A session
// ID suffix is added only when the plain name is already taken.
func (p *Pipeline) stem(stamp, id string) string {
	stem := "photo_" + stamp
	if !p.taken(stem) {
		return stem
	}
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return stem + "_" + short
}

func (p *Pipeline) taken(stem string) bool {
	for _, name := range []string{stem + "." + p.opts.ImageExt, stem + "_raw." + p.opts.ImageExt} {
		if _, err := os.Stat(filepath.Join(p.opts.OutputDir, name)); err == nil {
			return true
		}
	}
	return false
}

func (p *Pipeline) compose(img image.Image, dst string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compositor panic: %v", r)
		}
	}()
	return p.opts.Compositor.ComposeTo(img, dst)
}

// distribute runs print, archive and QR in order. The QR code encodes the
// archive link, so it is skipped when archiving did not succeed.
func (p *Pipeline) distribute(ctx context.Context, photo string) Distribution {
	var d Distribution

	d.Print = disabled[bool]()
	if p.opts.Printer != nil {
		if p.opts.Printer.Print(ctx, photo) {
			d.Print = Outcome[bool]{Value: true, Status: StatusSent}
		} else {
			d.Print = failed[bool](StagePrint, errors.New("printer did not accept the job"))
		}
	}
	debug.Value("Print", d.Print.Status)

	d.Archive = disabled[string]()
	if p.opts.Archiver != nil {
		dest, err := p.opts.Archiver.Store(photo)
		if err != nil {
			d.Archive = failed[string](StageArchive, err)
			debug.Warn("Archive warning: %v", err)
		} else {
			d.Archive = Outcome[string]{Value: dest, Status: StatusOK}
		}
	}
	debug.Value("Archive", d.Archive.Status)

	d.QR = disabled[string]()
	switch {
	case p.opts.QR == nil:
	case !d.Archive.OK():
		d.QR = skipped[string]()
	default:
		link, err := p.opts.Archiver.Link(d.Archive.Value)
		if err != nil {
			d.QR = failed[string](StageQR, err)
			debug.Warn("QR warning: %v", err)
			break
		}
		d.DownloadURL = link
		dest := strings.TrimSuffix(d.Archive.Value, filepath.Ext(d.Archive.Value)) + "_qr.png"
		qr, err := p.opts.QR.Encode(link, dest)
		if err != nil {
			d.QR = failed[string](StageQR, err)
			debug.Warn("QR warning: %v", err)
			break
		}
		d.QR = Outcome[string]{Value: qr, Status: StatusOK}
	}
	debug.Value("QR", d.QR.Status)
	return d
}

func (p *Pipeline) record(ctx context.Context, res *Result) {
	if p.opts.Recorder == nil {
		return
	}
	if err := p.opts.Recorder.Record(context.WithoutCancel(ctx), res); err != nil {
		debug.Warn("Journal warning: %v", err)
	}
}

// enter applies a transition the pipeline itself sequences; an illegal
// edge here is a programming error.
func (p *Pipeline) enter(m *Machine, s State) {
	if err := m.Transition(s); err != nil {
		panic("session: " + err.Error())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
