package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/cjeanneret/photobooth/internal/debug"
)

// Default stream dimensions when the request carries no ideal size.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// colorBars are the classic test card bars, left to right.
var colorBars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// Pattern is a synthetic Provider drawing a moving test card. It behaves like
// a single physical device: only one stream may be held at a time.
type Pattern struct {
	mu   sync.Mutex
	held bool
	// Fail, when set, makes every request fail with that kind.
	Fail *Kind
}

// NewPattern creates a synthetic camera.
func NewPattern() *Pattern {
	return &Pattern{}
}

func (p *Pattern) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Fail != nil {
		return nil, NewStreamError(*p.Fail, errors.New("simulated failure"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held {
		return nil, NewStreamError(KindDeviceBusy, errors.New("pattern camera already streaming"))
	}
	p.held = true

	w, h := c.IdealWidth, c.IdealHeight
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	facing := c.Facing
	if facing == "" {
		facing = FacingUser
	}
	debug.Verbose("Camera: pattern stream %dx%d (%s)", w, h, facing)
	return &patternStream{owner: p, size: image.Pt(w, h), facing: facing}, nil
}

type patternStream struct {
	owner  *Pattern
	size   image.Point
	facing Facing

	mu       sync.Mutex
	frame    int
	released bool
}

func (s *patternStream) Size() image.Point { return s.size }
func (s *patternStream) Facing() Facing    { return s.facing }

func (s *patternStream) DrawFrame(dst *image.RGBA) error {
	if err := checkDst(dst, s.size); err != nil {
		return err
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return errors.New("camera: stream released")
	}
	s.frame++
	frame := s.frame
	s.mu.Unlock()

	b := dst.Bounds()
	barW := (s.size.X + len(colorBars) - 1) / len(colorBars)
	sweep := (frame * 4) % s.size.X
	for y := 0; y < s.size.Y; y++ {
		row := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < s.size.X; x++ {
			c := colorBars[min(x/barW, len(colorBars)-1)]
			if s.facing == FacingEnvironment {
				c.R, c.B = c.B, c.R
			}
			if x == sweep {
				c = color.RGBA{255, 255, 255, 255}
			}
			i := row + x*4
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
	debug.Trace("Camera: pattern frame %d drawn", frame)
	return nil
}

func (s *patternStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.owner.mu.Lock()
	s.owner.held = false
	s.owner.mu.Unlock()
	debug.Verbose("Camera: pattern stream released")
	return nil
}
