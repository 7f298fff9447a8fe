package web

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/photobooth/internal/logic/capture"
)

// sseBuffer is the per-client queue of the status stream.
const sseBuffer = 64

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	closed  bool
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
// Cleanup may be called more than once.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, sseBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
	}
	return ch, unsub
}

// Clients returns the number of connected subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
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

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Close ends every subscription; later subscribers get a closed channel.
func (b *StatusBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

// Relay forwards controller events to the status stream as human-readable
// lines until ctx ends or events is closed.
func (b *StatusBroadcaster) Relay(ctx context.Context, events <-chan capture.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if level, msg := describeEvent(evt); msg != "" {
				b.Broadcast(level, msg)
			}
		}
	}
}

func describeEvent(evt capture.Event) (level, msg string) {
	switch evt.Type {
	case capture.EventState:
		return "state", "Booth " + evt.State.String()
	case capture.EventCountdown:
		return "countdown", strings.Repeat(".", max(0, capture.CountdownTicks-evt.Remaining)) + strconv.Itoa(evt.Remaining)
	case capture.EventPhoto:
		if evt.Photo != nil {
			return "photo", "Photo " + evt.Photo.ID + " (" + evt.Photo.Filter.String() + ")"
		}
	case capture.EventError:
		return "error", evt.Error
	}
	return "", ""
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
		msg := strings.TrimSpace(line)
		if msg == "" {
			continue
		}
		level := "info"
		if strings.Contains(msg, "ERROR") {
			level = "error"
		}
		w.b.Broadcast(level, msg)
	}
	return len(p), nil
}
