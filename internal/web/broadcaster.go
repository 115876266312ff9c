package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/boothframe/internal/logic/session"
)

// StatusEvent is one SSE message. Log lines carry Msg; session events
// carry Session and State, plus Remaining for countdown ticks.
type StatusEvent struct {
	Time      string `json:"t"`
	Level     string `json:"l,omitempty"`
	Msg       string `json:"msg,omitempty"`
	Session   string `json:"session,omitempty"`
	State     string `json:"state,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of connected subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish stamps evt and sends it to every subscriber.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	evt.Time = b.now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a log-style message: {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Observer forwards session transitions and countdown ticks to clients.
func (b *StatusBroadcaster) Observer() session.Observer {
	return func(ev session.Event) {
		b.Publish(StatusEvent{
			Level:     "session",
			Session:   ev.SessionID,
			State:     string(ev.State),
			Remaining: ev.Remaining,
		})
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
