package camera

import (
	"errors"
	"io/fs"
	"os/exec"
	"strings"
)

// Kind classifies why a stream could not be acquired.
type Kind int

const (
	// KindUnsupported indicates the platform or provider cannot produce a stream
	KindUnsupported Kind = iota
	// KindPermissionDenied indicates access to the camera was refused
	KindPermissionDenied
	// KindNoDevice indicates no camera matches the request
	KindNoDevice
	// KindDeviceBusy indicates the camera is held by someone else
	KindDeviceBusy
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNoDevice:
		return "no_device"
	case KindDeviceBusy:
		return "device_busy"
	default:
		return "unsupported"
	}
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Messages maps failure kinds to user-facing text. Missing entries fall back
// to the defaults returned by Describe.
type Messages map[Kind]string

// Describe returns the message for k, preferring m when it has one.
func (m Messages) Describe(k Kind) string {
	if s, ok := m[k]; ok && s != "" {
		return s
	}
	return Describe(k)
}

// Describe returns the default user-facing message for k.
func Describe(k Kind) string {
	switch k {
	case KindPermissionDenied:
		return "Camera access was denied. Grant camera permission and start again."
	case KindNoDevice:
		return "No camera was found. Connect a camera and start again."
	case KindDeviceBusy:
		return "The camera is in use by another application. Close it and start again."
	default:
		return "Camera capture is not supported on this platform."
	}
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindUnsupported, KindPermissionDenied, KindNoDevice, KindDeviceBusy} {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnsupported, false
}

// StreamError reports a failed stream acquisition.
type StreamError struct {
	Kind Kind
	Err  error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return "stream unavailable (" + e.Kind.String() + "): " + e.Err.Error()
	}
	return "stream unavailable (" + e.Kind.String() + ")"
}

func (e *StreamError) Unwrap() error { return e.Err }

// NewStreamError wraps err with an explicit kind.
func NewStreamError(k Kind, err error) *StreamError {
	return &StreamError{Kind: k, Err: err}
}

// Classify turns an arbitrary acquisition error into a *StreamError.
//
// Errors already classified keep their kind. Otherwise the kind comes from
// well-known sentinels, then from keywords in the message (the exec provider
// feeds grabber stderr through here).
func Classify(err error) *StreamError {
	if err == nil {
		return nil
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return NewStreamError(KindPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return NewStreamError(KindNoDevice, err)
	case errors.Is(err, exec.ErrNotFound):
		return NewStreamError(KindUnsupported, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "not permitted", "notallowed", "access denied"):
		return NewStreamError(KindPermissionDenied, err)
	case containsAny(msg, "busy", "in use", "notreadable", "could not claim"):
		return NewStreamError(KindDeviceBusy, err)
	case containsAny(msg, "no such file", "no such device", "not found", "no camera", "notfound"):
		return NewStreamError(KindNoDevice, err)
	}
	return NewStreamError(KindUnsupported, err)
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
