package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/cjeanneret/photobooth/internal/debug"
)

// DefaultGrabTimeout bounds a single external grab.
const DefaultGrabTimeout = 5 * time.Second

// runFunc executes an external command and returns its stderr.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// Exec is a Provider that grabs each frame by running an external tool
// (ffmpeg, fswebcam, libcamera-still, ...). The command is a template:
// "{device}" is replaced with the device for the requested facing and "{out}"
// with the path of the image file the tool must write.
//
// Example:
//
//	ffmpeg -y -loglevel error -f v4l2 -i {device} -frames:v 1 {out}
type Exec struct {
	Command []string
	Devices map[Facing]string
	Timeout time.Duration

	run      runFunc
	lookPath func(string) (string, error)
}

// NewExec creates an external-grabber camera.
func NewExec(command []string, devices map[Facing]string, timeout time.Duration) *Exec {
	if timeout <= 0 {
		timeout = DefaultGrabTimeout
	}
	return &Exec{
		Command:  command,
		Devices:  devices,
		Timeout:  timeout,
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

func (e *Exec) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if len(e.Command) == 0 {
		return nil, NewStreamError(KindUnsupported, errors.New("no grab command configured"))
	}
	if _, err := e.lookPath(e.Command[0]); err != nil {
		return nil, NewStreamError(KindUnsupported, fmt.Errorf("grabber %q: %w", e.Command[0], err))
	}
	facing := c.Facing
	if facing == "" {
		facing = FacingUser
	}
	device, ok := e.Devices[facing]
	if !ok {
		return nil, NewStreamError(KindNoDevice, fmt.Errorf("no %s camera device configured", facing))
	}

	tmpDir, err := os.MkdirTemp("", "photobooth-grab-*")
	if err != nil {
		return nil, NewStreamError(KindUnsupported, fmt.Errorf("create temp dir: %w", err))
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &execStream{owner: e, device: device, facing: facing, tmpDir: tmpDir, ctx: streamCtx, cancel: cancel}

	// Probe one frame to learn the dimensions and surface device errors now
	// rather than at capture time.
	probe, err := s.grab(ctx)
	if err != nil {
		cancel()
		os.RemoveAll(tmpDir)
		return nil, Classify(err)
	}
	size := probe.Bounds().Size()
	if c.IdealWidth > 0 && c.IdealHeight > 0 {
		size = image.Pt(c.IdealWidth, c.IdealHeight)
	}
	s.size = size
	debug.Verbose("Camera: exec stream %s on %s (%v)", e.Command[0], device, size)
	return s, nil
}

type execStream struct {
	owner  *Exec
	device string
	facing Facing
	tmpDir string
	size   image.Point

	// ctx is cancelled by Release and aborts a running grab.
	ctx    context.Context
	cancel context.CancelFunc

	// grabMu serialises grabs: they all write the same frame.png.
	grabMu sync.Mutex

	mu       sync.Mutex
	released bool
}

func (s *execStream) Size() image.Point { return s.size }
func (s *execStream) Facing() Facing    { return s.facing }

func (s *execStream) grab(ctx context.Context) (image.Image, error) {
	s.grabMu.Lock()
	defer s.grabMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.owner.Timeout)
	defer cancel()

	out := filepath.Join(s.tmpDir, "frame.png")
	args := make([]string, 0, len(s.owner.Command)-1)
	for _, a := range s.owner.Command[1:] {
		a = strings.ReplaceAll(a, "{device}", s.device)
		a = strings.ReplaceAll(a, "{out}", out)
		args = append(args, a)
	}

	stderr, err := s.owner.run(ctx, s.owner.Command[0], args...)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", s.owner.Command[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", s.owner.Command[0], err)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("read grabbed frame: %w", err)
	}
	defer f.Close()
	defer os.Remove(out)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, NewStreamError(KindUnsupported, fmt.Errorf("decode grabbed frame: %w", err))
	}
	return img, nil
}

func (s *execStream) DrawFrame(dst *image.RGBA) error {
	if err := checkDst(dst, s.size); err != nil {
		return err
	}
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return errors.New("camera: stream released")
	}

	img, err := s.grab(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return fmt.Errorf("camera: stream released: %w", err)
		}
		return err
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return nil
}

func (s *execStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.cancel()

	// Wait for an aborted grab to exit before its directory goes away.
	s.grabMu.Lock()
	defer s.grabMu.Unlock()
	return os.RemoveAll(s.tmpDir)
}
