package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/cjeanneret/photobooth/internal/debug"
)

// Still is a Provider serving a fixed image per facing. Useful for kiosks
// without a camera and for demos. The image is decoded when the stream is
// requested and scaled to the ideal size when one is given.
type Still struct {
	Paths map[Facing]string
}

// NewStill creates a still-image camera. Empty paths mean "no device" for
// that facing.
func NewStill(front, back string) *Still {
	paths := make(map[Facing]string)
	if front != "" {
		paths[FacingUser] = front
	}
	if back != "" {
		paths[FacingEnvironment] = back
	}
	return &Still{Paths: paths}
}

func (s *Still) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	facing := c.Facing
	if facing == "" {
		facing = FacingUser
	}
	path, ok := s.Paths[facing]
	if !ok {
		return nil, NewStreamError(KindNoDevice, fmt.Errorf("no %s camera image configured", facing))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Classify(err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, NewStreamError(KindUnsupported, fmt.Errorf("decode %s: %w", path, err))
	}
	debug.Verbose("Camera: still %s decoded (%s, %v)", path, format, src.Bounds().Size())

	size := src.Bounds().Size()
	if c.IdealWidth > 0 && c.IdealHeight > 0 {
		size = image.Pt(c.IdealWidth, c.IdealHeight)
	}
	frame := image.NewRGBA(image.Rectangle{Max: size})
	xdraw.ApproxBiLinear.Scale(frame, frame.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	return &stillStream{frame: frame, facing: facing}, nil
}

type stillStream struct {
	mu       sync.Mutex
	frame    *image.RGBA
	facing   Facing
	released bool
}

func (s *stillStream) Size() image.Point { return s.frame.Bounds().Size() }
func (s *stillStream) Facing() Facing    { return s.facing }

func (s *stillStream) DrawFrame(dst *image.RGBA) error {
	if err := checkDst(dst, s.Size()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("camera: stream released")
	}
	xdraw.Copy(dst, dst.Bounds().Min, s.frame, s.frame.Bounds(), xdraw.Src, nil)
	return nil
}

func (s *stillStream) Release() error {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	return nil
}
