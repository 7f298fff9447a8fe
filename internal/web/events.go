package web

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cjeanneret/photobooth/internal/debug"
)

const eventWriteTimeout = 5 * time.Second

// snapshotMessage is the first frame sent on /events.
type snapshotMessage struct {
	Type  string        `json:"type"`
	State stateResponse `json:"snapshot"`
}

// HandleEvents handles GET /events: a WebSocket carrying controller events
// as JSON, starting with a snapshot. Client messages are ignored.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		debug.Verbose("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	events, unsub := h.Booth.Subscribe()
	defer unsub()

	ctx := conn.CloseRead(r.Context())
	debug.Verbose("Events client connected: %s", r.RemoteAddr)

	if err := writeEvent(ctx, conn, snapshotMessage{Type: "snapshot", State: h.state()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "booth stopped")
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				debug.Verbose("Events client %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
