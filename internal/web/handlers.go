package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/boothframe/internal/config"
	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/journal"
	"github.com/cjeanneret/boothframe/internal/logic/session"
)

// MaxCountdown bounds the per-request countdown override.
const MaxCountdown = 30

// CaptureRequest is the optional JSON body of POST /capture.
type CaptureRequest struct {
	SkipCountdown bool `json:"skip_countdown"`
	Countdown     int  `json:"countdown"` // 0 = configured value
}

// ValidateCaptureRequest checks the countdown override.
func ValidateCaptureRequest(req CaptureRequest) error {
	if req.Countdown < 0 || req.Countdown > MaxCountdown {
		return fmt.Errorf("countdown must be between 0 and %d", MaxCountdown)
	}
	return nil
}

// Runner runs booth sessions.
type Runner interface {
	NewID() string
	Run(ctx context.Context, ro session.RunOptions) *session.Result
}

// JournalReader lists recorded sessions.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// FrameInfo is served by GET /frame for the preview overlay.
type FrameInfo struct {
	config.FrameGeometry
	CountdownSeconds int `json:"countdown_seconds"`
}

// SessionView is the JSON shape of GET /sessions/{id}.
type SessionView struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Framed        bool   `json:"framed,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
	QRURL         string `json:"qr_url,omitempty"`
	PrintStatus   string `json:"print_status,omitempty"`
	ArchiveStatus string `json:"archive_status,omitempty"`
	QRStatus      string `json:"qr_status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// sessionEntry is what the result cache holds per session ID.
type sessionEntry struct {
	running bool
	result  *session.Result
}

// Options wires Handlers. Runner and Journal may be nil.
type Options struct {
	Broadcaster *StatusBroadcaster
	Runner      Runner
	Journal     JournalReader
	Frame       FrameInfo
	// Gate serialises sessions with the other trigger sources.
	Gate         *semaphore.Weighted
	MinInterval  time.Duration // 0 = no rate limit
	MaxBodyBytes int64
	ResultTTL    time.Duration
	OutputDir    string
	SharedDir    string
	StaticFS     fs.FS
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Runner      Runner
	Journal     JournalReader
	Frame       FrameInfo

	gate     *semaphore.Weighted
	limiter  *rate.Limiter
	results  *cache.Cache
	ttl      time.Duration
	maxBody  int64
	output   string
	shared   string
	staticFS fs.FS

	// sessions started by HTTP requests outlive the request; they run on
	// baseCtx and are tracked by wg.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHandlers creates handlers with the given dependencies.
// If opts.Runner is nil, POST /capture returns 503 Service Unavailable.
func NewHandlers(opts Options) *Handlers {
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewStatusBroadcaster()
	}
	if opts.Gate == nil {
		opts.Gate = semaphore.NewWeighted(1)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 30 * time.Minute
	}
	var limiter *rate.Limiter
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{
		Broadcaster: opts.Broadcaster,
		Runner:      opts.Runner,
		Journal:     opts.Journal,
		Frame:       opts.Frame,
		gate:        opts.Gate,
		limiter:     limiter,
		results:     cache.New(opts.ResultTTL, 2*opts.ResultTTL),
		ttl:         opts.ResultTTL,
		maxBody:     opts.MaxBodyBytes,
		output:      opts.OutputDir,
		shared:      opts.SharedDir,
		staticFS:    opts.StaticFS,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Shutdown cancels sessions still counting down and waits for running
// ones to finish.
func (h *Handlers) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleFrame returns the frame geometry as JSON.
func (h *Handlers) HandleFrame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Frame)
}

// HandleCapture handles POST /capture: it starts a session in the
// background and answers 202 with the session ID.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CaptureRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateCaptureRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Runner == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	if !h.gate.TryAcquire(1) {
		http.Error(w, "session already in progress", http.StatusConflict)
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.gate.Release(1)
		http.Error(w, "too many capture requests", http.StatusTooManyRequests)
		return
	}

	id := h.Runner.NewID()
	h.results.Set(id, &sessionEntry{running: true}, cache.NoExpiration)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.gate.Release(1)

		res := h.Runner.Run(h.baseCtx, session.RunOptions{
			ID:            id,
			SkipCountdown: req.SkipCountdown,
			Countdown:     req.Countdown,
		})
		h.results.Set(id, &sessionEntry{result: res}, h.ttl)
		if res.Err != nil {
			h.Broadcaster.Broadcast("error", "Session failed: "+res.Err.Error())
			debug.Warn("web session %s: %v", id, res.Err)
		} else {
			h.Broadcaster.Broadcast("info", "Session complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "id": id})
}

// HandleSession handles GET /sessions/{id}.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, ok := h.results.Get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	entry := v.(*sessionEntry)
	if entry.running {
		writeJSON(w, http.StatusAccepted, SessionView{ID: id, State: "running"})
		return
	}
	writeJSON(w, http.StatusOK, h.view(entry.result))
}

// HandleSessions handles GET /sessions?limit=N from the journal.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// view maps a session result to its public URLs.
func (h *Handlers) view(res *session.Result) SessionView {
	d := res.Distribution
	v := SessionView{
		ID:            res.ID,
		State:         string(res.State),
		Framed:        res.Framed,
		DownloadURL:   d.DownloadURL,
		PrintStatus:   string(d.Print.Status),
		ArchiveStatus: string(d.Archive.Status),
		QRStatus:      string(d.QR.Status),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	if res.PhotoPath != "" {
		v.PhotoURL = urlUnder("/captures/", h.output, res.PhotoPath)
	}
	if d.QR.OK() {
		v.QRURL = urlUnder("/shared/", h.shared, d.QR.Value)
	}
	return v
}

// urlUnder returns prefix + the slash path of p relative to root, or ""
// when p is not inside root.
func urlUnder(prefix, root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return ""
	}
	return prefix + rel
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
