package capture

import (
	"errors"
	"time"

	"github.com/cjeanneret/photobooth/internal/logic/filter"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
)

// State is a Controller lifecycle state.
type State int

const (
	Idle State = iota
	AwaitingStream
	Live
	Countdown
	Capturing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingStream:
		return "awaiting_stream"
	case Live:
		return "live"
	case Countdown:
		return "countdown"
	case Capturing:
		return "capturing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// hasStream reports whether a camera stream is held in state s.
func (s State) hasStream() bool {
	return s == Live || s == Countdown || s == Capturing
}

var (
	// ErrNotLive is returned by capture requests outside the Live state.
	// The request is ignored and the gallery is left untouched.
	ErrNotLive = errors.New("capture: controller is not live")
	// ErrInvalidState is returned when a command does not apply to the current state.
	ErrInvalidState = errors.New("capture: invalid state for this command")
	// ErrStopped is returned by every command after Shutdown.
	ErrStopped = errors.New("capture: controller stopped")
	// ErrUnknownFilter is returned in strict mode for names outside the filter set.
	ErrUnknownFilter = errors.New("capture: unknown filter")
	// ErrCaptureCancelled reports a countdown torn down before the shot.
	ErrCaptureCancelled = errors.New("capture: countdown cancelled")
)

// CaptureError aborts a Capturing -> Live transition. The gallery is not
// modified when it is returned.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return "capture failed: " + e.Op + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// EventType names a controller notification.
type EventType string

const (
	EventState     EventType = "state"
	EventCountdown EventType = "countdown"
	EventPhoto     EventType = "photo"
	EventFilter    EventType = "filter"
	EventError     EventType = "error"
)

// Event is a state-change notification delivered to subscribers.
type Event struct {
	Type      EventType     `json:"type"`
	Time      time.Time     `json:"t"`
	State     State         `json:"state"`
	Remaining int           `json:"remaining,omitempty"`
	Filter    filter.ID     `json:"filter"`
	Photo     *gallery.Info `json:"photo,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      string        `json:"kind,omitempty"`
}
