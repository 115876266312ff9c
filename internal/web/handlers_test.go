package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cjeanneret/boothframe/internal/config"
	"github.com/cjeanneret/boothframe/internal/journal"
	"github.com/cjeanneret/boothframe/internal/logic/session"
)

// ---------- fakes ----------

type fakeRunner struct {
	mu      sync.Mutex
	n       int
	opts    []session.RunOptions
	started chan struct{} // closed on first Run when set
	block   chan struct{} // Run waits on it when set
	result  func(id string) *session.Result
}

func (f *fakeRunner) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "sess-" + string(rune('0'+f.n))
}

func (f *fakeRunner) Run(ctx context.Context, ro session.RunOptions) *session.Result {
	f.mu.Lock()
	f.opts = append(f.opts, ro)
	started := f.started
	f.started = nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &session.Result{ID: ro.ID, State: session.Cancelled, Err: session.ErrCancelled}
		}
	}
	if f.result != nil {
		return f.result(ro.ID)
	}
	return &session.Result{ID: ro.ID, State: session.Done, PhotoPath: "captures/photo_20250101_120000.jpg"}
}

type fakeJournal struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	j.limit = limit
	return j.entries, j.err
}

// ---------- helpers ----------

func newTestHandlers(runner Runner, opts ...func(*Options)) *Handlers {
	o := Options{
		Runner:    runner,
		OutputDir: "captures",
		SharedDir: "shared",
		Frame: FrameInfo{
			FrameGeometry: config.FrameGeometry{
				Present: true, AspectRatio: 1.5, SlotLeft: 0.1, SlotTop: 0.2, SlotWidth: 0.5, SlotHeight: 0.6,
			},
			CountdownSeconds: 3,
		},
		StaticFS: fstest.MapFS{
			"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewHandlers(o)
}

func postCapture(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCapture(w, req)
	return w
}

func startedID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" || resp["id"] == "" {
		t.Fatalf("response = %v", resp)
	}
	return resp["id"]
}

// ---------- ValidateCaptureRequest ----------

func TestValidateCaptureRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     CaptureRequest
		wantErr bool
	}{
		{"empty", CaptureRequest{}, false},
		{"skip", CaptureRequest{SkipCountdown: true}, false},
		{"max", CaptureRequest{Countdown: MaxCountdown}, false},
		{"negative", CaptureRequest{Countdown: -1}, true},
		{"too long", CaptureRequest{Countdown: MaxCountdown + 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateCaptureRequest(tc.req); (err != nil) != tc.wantErr {
				t.Errorf("ValidateCaptureRequest() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// ---------- HandleCapture ----------

func TestHandleCapture_ValidPost(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestHandlers(runner)

	w := postCapture(h, `{"skip_countdown":true,"countdown":5}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	id := startedID(t, w)
	h.Shutdown()

	if len(runner.opts) != 1 {
		t.Fatalf("runs = %d, want 1", len(runner.opts))
	}
	ro := runner.opts[0]
	if ro.ID != id || !ro.SkipCountdown || ro.Countdown != 5 {
		t.Errorf("RunOptions = %+v", ro)
	}
}

func TestHandleCapture_EmptyBodyAccepted(t *testing.T) {
	h := newTestHandlers(&fakeRunner{})
	if w := postCapture(h, ""); w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	h.Shutdown()
}

func TestHandleCapture_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/capture", nil)
	w := httptest.NewRecorder()

	h.HandleCapture(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCapture_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"bad countdown", `{"countdown":-3}`},
		{"oversized", `{"skip_countdown":true,"pad":"` + strings.Repeat("x", 2<<20) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := newTestHandlers(runner)
			if w := postCapture(h, tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			h.Shutdown()
			if len(runner.opts) != 0 {
				t.Error("no session should start on a bad request")
			}
		})
	}
}

func TestHandleCapture_NilRunner(t *testing.T) {
	h := newTestHandlers(nil)
	if w := postCapture(h, "{}"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCapture_ConcurrentCapture(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), block: make(chan struct{})}
	started := runner.started
	h := newTestHandlers(runner)

	w1 := postCapture(h, "{}")
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}
	<-started

	if w2 := postCapture(h, "{}"); w2.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w2.Code, http.StatusConflict)
	}

	close(runner.block)
	h.Shutdown()
}

func TestHandleCapture_SharedGateBusy(t *testing.T) {
	gate := semaphore.NewWeighted(1)
	h := newTestHandlers(&fakeRunner{}, func(o *Options) { o.Gate = gate })

	gate.TryAcquire(1) // the button watcher is running a session
	if w := postCapture(h, "{}"); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	gate.Release(1)
	if w := postCapture(h, "{}"); w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d after release", w.Code, http.StatusAccepted)
	}
	h.Shutdown()
}

func TestHandleCapture_RateLimiting(t *testing.T) {
	h := newTestHandlers(&fakeRunner{}, func(o *Options) { o.MinInterval = time.Hour })

	if w := postCapture(h, "{}"); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	h.wg.Wait() // first session finished, gate released

	if w := postCapture(h, "{}"); w.Code != http.StatusTooManyRequests {
		t.Errorf("rate-limited request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// A rate-limited request must not keep the gate.
	if !h.gate.TryAcquire(1) {
		t.Error("gate still held after 429")
	}
}

func TestHandleCapture_ShutdownCancelsCountdown(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	h := newTestHandlers(runner)
	id := startedID(t, postCapture(h, "{}"))

	h.Shutdown() // cancels baseCtx; the fake returns Cancelled

	v, ok := h.results.Get(id)
	if !ok {
		t.Fatal("result missing")
	}
	if e := v.(*sessionEntry); e.running || e.result.State != session.Cancelled {
		t.Errorf("entry = %+v", e)
	}
}

// ---------- HandleSession ----------

func getSession(h *Handlers, id string) *httptest.ResponseRecorder {
	srv := &Server{handlers: h}
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHandleSession_Lifecycle(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	runner.result = func(id string) *session.Result {
		return &session.Result{
			ID:        id,
			State:     session.Done,
			PhotoPath: filepath.Join("captures", "photo_20250101_120000.jpg"),
			Framed:    true,
			Distribution: session.Distribution{
				Print:       session.Outcome[bool]{Status: session.StatusFailed, Err: errors.New("lp")},
				Archive:     session.Outcome[string]{Value: filepath.Join("shared", "20250101_120000", "photo_20250101_120000.jpg"), Status: session.StatusOK},
				QR:          session.Outcome[string]{Value: filepath.Join("shared", "20250101_120000", "photo_20250101_120000_qr.png"), Status: session.StatusOK},
				DownloadURL: "http://booth.local/shared/20250101_120000/photo_20250101_120000.jpg",
			},
		}
	}
	h := newTestHandlers(runner)
	id := startedID(t, postCapture(h, "{}"))

	if w := getSession(h, id); w.Code != http.StatusAccepted {
		t.Errorf("running session: status = %d, want %d", w.Code, http.StatusAccepted)
	}

	close(runner.block)
	h.wg.Wait()

	w := getSession(h, id)
	if w.Code != http.StatusOK {
		t.Fatalf("finished session: status = %d, want %d", w.Code, http.StatusOK)
	}
	var v SessionView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	want := SessionView{
		ID:            id,
		State:         "done",
		Framed:        true,
		PhotoURL:      "/captures/photo_20250101_120000.jpg",
		DownloadURL:   "http://booth.local/shared/20250101_120000/photo_20250101_120000.jpg",
		QRURL:         "/shared/20250101_120000/photo_20250101_120000_qr.png",
		PrintStatus:   "failed",
		ArchiveStatus: "ok",
		QRStatus:      "ok",
	}
	if v != want {
		t.Errorf("view = %+v\nwant %+v", v, want)
	}
}

func TestHandleSession_ErroredHasNoPhoto(t *testing.T) {
	runner := &fakeRunner{result: func(id string) *session.Result {
		return &session.Result{ID: id, State: session.Errored, Err: errors.New("capture: camera: device unavailable")}
	}}
	h := newTestHandlers(runner)
	id := startedID(t, postCapture(h, "{}"))
	h.wg.Wait()

	var v SessionView
	json.NewDecoder(getSession(h, id).Body).Decode(&v)
	if v.State != "errored" || v.PhotoURL != "" || v.Error == "" {
		t.Errorf("view = %+v", v)
	}
}

func TestHandleSession_Unknown(t *testing.T) {
	h := newTestHandlers(&fakeRunner{})
	if w := getSession(h, "nope"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- HandleSessions ----------

func TestHandleSessions(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		h := newTestHandlers(nil)
		w := httptest.NewRecorder()
		h.HandleSessions(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("lists entries", func(t *testing.T) {
		j := &fakeJournal{entries: []journal.Entry{{ID: "a", State: "done"}}}
		h := newTestHandlers(nil, func(o *Options) { o.Journal = j })
		w := httptest.NewRecorder()
		h.HandleSessions(w, httptest.NewRequest(http.MethodGet, "/sessions?limit=5", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var got []journal.Entry
		json.NewDecoder(w.Body).Decode(&got)
		if len(got) != 1 || got[0].ID != "a" || j.limit != 5 {
			t.Errorf("got %+v, limit %d", got, j.limit)
		}
	})

	t.Run("empty is a list", func(t *testing.T) {
		h := newTestHandlers(nil, func(o *Options) { o.Journal = &fakeJournal{} })
		w := httptest.NewRecorder()
		h.HandleSessions(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("body = %q, want []", w.Body.String())
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		h := newTestHandlers(nil, func(o *Options) { o.Journal = &fakeJournal{} })
		w := httptest.NewRecorder()
		h.HandleSessions(w, httptest.NewRequest(http.MethodGet, "/sessions?limit=x", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("journal error", func(t *testing.T) {
		h := newTestHandlers(nil, func(o *Options) { o.Journal = &fakeJournal{err: errors.New("locked")} })
		w := httptest.NewRecorder()
		h.HandleSessions(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

// ---------- HandleFrame ----------

func TestHandleFrame(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()
	h.HandleFrame(w, httptest.NewRequest(http.MethodGet, "/frame", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["frame_ratio"] != 1.5 || got["slot_left"] != 0.1 || got["countdown_seconds"] != 3.0 || got["present"] != true {
		t.Errorf("frame = %v", got)
	}
}

// ---------- ServeIndex / routing ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestRouter_EmbeddedPageAndFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "captures")
	os.MkdirAll(out, 0o755)
	os.WriteFile(filepath.Join(out, "photo.jpg"), []byte("jpeg bytes"), 0o644)

	srv, err := NewServer(":0", Options{OutputDir: out, SharedDir: filepath.Join(dir, "shared")})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	router := srv.Router()

	cases := []struct {
		path     string
		want     int
		contains string
	}{
		{"/", http.StatusOK, "boothframe"},
		{"/static/style.css", http.StatusOK, ".slot"},
		{"/captures/photo.jpg", http.StatusOK, "jpeg bytes"},
		{"/captures/", http.StatusNotFound, ""},
		{"/captures/missing.jpg", http.StatusNotFound, ""},
		{"/frame", http.StatusOK, "frame_ratio"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.contains != "" && !strings.Contains(w.Body.String(), tc.contains) {
				t.Errorf("body does not contain %q", tc.contains)
			}
		})
	}
}

func TestHandleStatusStream_DeliversEvents(t *testing.T) {
	h := newTestHandlers(nil)
	srv := httptest.NewServer((&Server{handlers: h}).Router())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Broadcaster.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Broadcaster.Observer()(session.Event{SessionID: "s1", State: session.Capturing})

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 256)
	for !bytes.Contains(buf, []byte(`"state":"capturing"`)) && time.Now().Before(deadline) {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	if !bytes.Contains(buf, []byte(`data: {`)) || !bytes.Contains(buf, []byte(`"session":"s1"`)) {
		t.Errorf("stream = %q", buf)
	}
}
