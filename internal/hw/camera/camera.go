package camera

import (
	"context"
	"fmt"
	"image"
)

// Facing selects the front ("user") or back ("environment") camera.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Flip returns the opposite facing.
func (f Facing) Flip() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// ParseFacing validates a configured facing. Empty means FacingUser.
func ParseFacing(s string) (Facing, error) {
	switch Facing(s) {
	case "", FacingUser:
		return FacingUser, nil
	case FacingEnvironment:
		return FacingEnvironment, nil
	default:
		return "", fmt.Errorf("unknown camera facing %q (use user or environment)", s)
	}
}

// Constraints are the stream request hints. Zero ideal dimensions let the
// provider choose.
type Constraints struct {
	Facing      Facing
	IdealWidth  int
	IdealHeight int
}

// Provider is the high-level interface used by the rest of the application.
// It represents an abstract camera source regardless of how frames are
// obtained (synthetic, files, external grabber, ...).
type Provider interface {
	// RequestStream acquires a live stream. Failures are *StreamError values,
	// except a done ctx, which yields ctx.Err().
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live camera feed. It is owned by a single controller.
type Stream interface {
	// Size returns the frame dimensions, fixed for the stream's lifetime.
	Size() image.Point
	// DrawFrame draws the latest frame into dst, which must have Size() bounds.
	// It may be called from several goroutines and fails once released.
	DrawFrame(dst *image.RGBA) error
	// Facing reports which camera the stream comes from.
	Facing() Facing
	// Release frees the platform resources held by the stream. Idempotent.
	Release() error
}

// checkDst validates that dst matches the stream dimensions.
func checkDst(dst *image.RGBA, size image.Point) error {
	if dst == nil {
		return fmt.Errorf("camera: nil frame buffer")
	}
	if got := dst.Bounds().Size(); got != size {
		return fmt.Errorf("camera: frame buffer is %v, stream is %v", got, size)
	}
	return nil
}
