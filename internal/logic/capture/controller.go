package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/hw/camera"
	"github.com/cjeanneret/photobooth/internal/logic/filter"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
)

const (
	// CountdownTicks is the number of ticks between a capture request and the shot.
	CountdownTicks = 3
	// DefaultTickInterval is the countdown tick period.
	DefaultTickInterval = time.Second
	// DefaultDuplicateDistance is the largest dHash distance at which two
	// consecutive photos are reported as a possibly frozen feed.
	DefaultDuplicateDistance = 1
)

// TickSource starts a periodic tick and returns its channel and a stop function.
type TickSource func(d time.Duration) (<-chan time.Time, func())

func defaultTicks(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Filter        filter.ID
	Facing        camera.Facing
	IdealWidth    int
	IdealHeight   int
	TickInterval  time.Duration
	StrictFilters bool
	Compression   png.CompressionLevel
	// DuplicateDistance is the frozen-feed threshold. nil selects
	// DefaultDuplicateDistance, a negative value disables the check.
	DuplicateDistance *int
	Ticks             TickSource
	Now               func() time.Time
}

// Snapshot is a point-in-time view of the controller for UIs.
type Snapshot struct {
	State     State         `json:"state"`
	Filter    filter.ID     `json:"filter"`
	Preview   filter.Effect `json:"preview"`
	Facing    camera.Facing `json:"facing"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Photos    int           `json:"photos"`
	LastError string        `json:"last_error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

type countdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	photo  *gallery.Photo
	err    error
}

// Controller owns the camera stream and sequences countdown and capture.
// All state transitions happen under mu, so commands issued from HTTP
// handlers, the GPIO poller and the countdown goroutine are serialized.
type Controller struct {
	provider camera.Provider
	gallery  *gallery.Gallery
	opts     Options
	encoder  png.Encoder
	notify   *notifier
	dupLimit int

	mu         sync.Mutex
	state      State
	filter     filter.ID
	facing     camera.Facing
	stream     camera.Stream
	frame      *image.RGBA
	generation uint64
	cd         *countdown
	lastErr    error
}

// NewController creates an Idle controller.
func NewController(p camera.Provider, g *gallery.Gallery, opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Ticks == nil {
		opts.Ticks = defaultTicks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Facing == "" {
		opts.Facing = camera.FacingUser
	}
	dup := DefaultDuplicateDistance
	if opts.DuplicateDistance != nil {
		dup = *opts.DuplicateDistance
	}
	f := opts.Filter
	if !f.Valid() {
		f = filter.None
	}
	return &Controller{
		provider: p,
		gallery:  g,
		opts:     opts,
		encoder:  png.Encoder{CompressionLevel: opts.Compression},
		notify:   newNotifier(),
		state:    Idle,
		filter:   f,
		facing:   opts.Facing,
		dupLimit: dup,
	}
}

// Gallery returns the gallery photos are appended to.
func (c *Controller) Gallery() *gallery.Gallery { return c.gallery }

// Subscribe registers an observer. The returned function ends the subscription.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.notify.subscribe()
}

// StartSession requests a camera stream and moves to Live on success.
// A failed request leaves the controller Idle and returns a *camera.StreamError.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Idle:
	case Stopped:
		c.mu.Unlock()
		return ErrStopped
	default:
		c.mu.Unlock()
		return fmt.Errorf("start session in %s: %w", c.state, ErrInvalidState)
	}
	gen, cons := c.beginAcquireLocked()
	c.mu.Unlock()

	return c.acquire(ctx, gen, cons)
}

func (c *Controller) beginAcquireLocked() (uint64, camera.Constraints) {
	c.generation++
	c.lastErr = nil
	c.setStateLocked(AwaitingStream)
	return c.generation, camera.Constraints{
		Facing:      c.facing,
		IdealWidth:  c.opts.IdealWidth,
		IdealHeight: c.opts.IdealHeight,
	}
}

// acquire runs the provider request outside the lock. A stream obtained for
// a superseded generation is released.
func (c *Controller) acquire(ctx context.Context, gen uint64, cons camera.Constraints) error {
	debug.Verbose("Requesting %s camera stream (%dx%d ideal)", cons.Facing, cons.IdealWidth, cons.IdealHeight)
	stream, err := c.provider.RequestStream(ctx, cons)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state != AwaitingStream {
		if stream != nil {
			_ = stream.Release()
		}
		if c.state == Stopped {
			return ErrStopped
		}
		return fmt.Errorf("session changed while acquiring stream: %w", ErrInvalidState)
	}

	if err == nil {
		if size := stream.Size(); size.X <= 0 || size.Y <= 0 {
			_ = stream.Release()
			err = camera.NewStreamError(camera.KindUnsupported, fmt.Errorf("stream reported size %v", size))
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isStreamError(err) {
			c.setStateLocked(Idle)
			return ctxErr
		}
		se := camera.Classify(err)
		c.lastErr = se
		debug.Error(se)
		c.setStateLocked(Idle)
		c.publishLocked(Event{Type: EventError, Error: se.Error(), Kind: se.Kind.String()})
		return se
	}

	size := stream.Size()
	c.stream = stream
	c.facing = stream.Facing()
	if c.frame == nil || c.frame.Bounds().Size() != size {
		c.frame = image.NewRGBA(image.Rectangle{Max: size})
	}
	debug.Live("Camera live: %s %dx%d", c.facing, size.X, size.Y)
	c.setStateLocked(Live)
	return nil
}

func isStreamError(err error) bool {
	var se *camera.StreamError
	return errors.As(err, &se)
}

// RequestCapture starts the countdown and returns immediately. Outside Live
// it does nothing and returns ErrNotLive (ErrStopped after Shutdown).
func (c *Controller) RequestCapture() error {
	_, err := c.startCountdown(context.Background())
	return err
}

// Capture starts the countdown and waits for the resulting photo.
// Cancelling ctx aborts the countdown; no photo is added in that case.
func (c *Controller) Capture(ctx context.Context) (*gallery.Photo, error) {
	cd, err := c.startCountdown(ctx)
	if err != nil {
		return nil, err
	}
	<-cd.done
	return cd.photo, cd.err
}

func (c *Controller) startCountdown(parent context.Context) (*countdown, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Live:
	case Stopped:
		return nil, ErrStopped
	default:
		debug.Verbose("Capture ignored in state %s", c.state)
		return nil, ErrNotLive
	}

	ctx, cancel := context.WithCancel(parent)
	cd := &countdown{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.cd = cd
	c.setStateLocked(Countdown)
	c.tickLocked(CountdownTicks)

	go c.runCountdown(cd)
	return cd, nil
}

func (c *Controller) tickLocked(remaining int) {
	debug.Tick(remaining)
	c.publishLocked(Event{Type: EventCountdown, Remaining: remaining})
}

func (c *Controller) runCountdown(cd *countdown) {
	defer close(cd.done)
	defer cd.cancel()

	ticks, stop := c.opts.Ticks(c.opts.TickInterval)
	defer stop()

	for remaining := CountdownTicks; remaining > 0; {
		select {
		case <-cd.ctx.Done():
			c.abortCountdown(cd)
			return
		case <-ticks:
			remaining--
			if remaining > 0 && !c.tick(cd, remaining) {
				cd.err = ErrCaptureCancelled
				return
			}
		}
	}
	cd.photo, cd.err = c.shoot(cd)
}

// tick publishes a countdown step if cd is still the active countdown.
func (c *Controller) tick(cd *countdown, remaining int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cd != cd {
		return false
	}
	c.tickLocked(remaining)
	return true
}

// abortCountdown handles cancellation through the caller's context. When the
// countdown was detached by a teardown the state already moved on.
func (c *Controller) abortCountdown(cd *countdown) {
	cd.err = ErrCaptureCancelled
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cd != cd {
		return
	}
	c.cd = nil
	debug.Verbose("Countdown cancelled")
	c.setStateLocked(Live)
}

// shoot performs Capturing -> Live. The gallery is only touched once the
// frame is drawn, filtered and encoded. mu is not held while the camera
// draws; a teardown in the meantime cancels the shot.
func (c *Controller) shoot(cd *countdown) (*gallery.Photo, error) {
	c.mu.Lock()
	if c.cd != cd || c.state != Countdown {
		c.mu.Unlock()
		return nil, ErrCaptureCancelled
	}
	c.cd = nil
	c.setStateLocked(Capturing)
	stream, frame, active, gen := c.stream, c.frame, c.filter, c.generation
	c.mu.Unlock()

	drawErr := drawInto(stream, frame)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state != Capturing {
		debug.Verbose("Capture cancelled while drawing")
		return nil, ErrCaptureCancelled
	}

	photo, err := c.encodeLocked(frame, active, drawErr)
	if err != nil {
		c.lastErr = err
		debug.Error(err)
		c.publishLocked(Event{Type: EventError, Error: err.Error()})
		c.setStateLocked(Live)
		return nil, err
	}

	c.gallery.Append(photo)
	debug.Shot(photo.ID(), photo.Filter().String(), c.gallery.Len())
	info := photo.Info()
	c.publishLocked(Event{Type: EventPhoto, Photo: &info})
	c.setStateLocked(Live)
	return photo, nil
}

func drawInto(stream camera.Stream, frame *image.RGBA) error {
	if stream == nil || frame == nil {
		return &CaptureError{Op: "draw", Err: errors.New("no active stream")}
	}
	if err := stream.DrawFrame(frame); err != nil {
		return &CaptureError{Op: "draw", Err: err}
	}
	return nil
}

// encodeLocked filters frame in place and turns it into a Photo.
func (c *Controller) encodeLocked(frame *image.RGBA, active filter.ID, drawErr error) (*gallery.Photo, error) {
	if drawErr != nil {
		return nil, drawErr
	}
	filter.ApplyImage(frame, active)

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, frame); err != nil {
		return nil, &CaptureError{Op: "encode", Err: err}
	}

	hash, err := goimagehash.DifferenceHash(frame)
	if err != nil {
		return nil, &CaptureError{Op: "hash", Err: err}
	}
	c.checkDuplicateLocked(hash)

	size := frame.Bounds().Size()
	return gallery.NewPhoto(buf.Bytes(), active, c.opts.Now(), size.X, size.Y, hash.GetHash()), nil
}

func (c *Controller) checkDuplicateLocked(hash *goimagehash.ImageHash) {
	if c.dupLimit < 0 {
		return
	}
	last, ok := c.gallery.Last()
	if !ok {
		return
	}
	prev := goimagehash.NewImageHash(last.Hash(), goimagehash.DHash)
	dist, err := hash.Distance(prev)
	if err != nil {
		return
	}
	if dist <= c.dupLimit {
		debug.Info("Photo nearly identical to %s (distance %d): camera feed may be frozen", last.ID(), dist)
	}
}

// SetFilter selects the filter applied to future captures. Invalid ids fall
// back to none unless strict filtering is enabled.
func (c *Controller) SetFilter(id filter.ID) error {
	if !id.Valid() {
		if c.opts.StrictFilters {
			return fmt.Errorf("%w: %d", ErrUnknownFilter, int(id))
		}
		id = filter.None
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return ErrStopped
	}
	if c.filter != id {
		debug.Verbose("Filter: %s -> %s", c.filter, id)
	}
	c.filter = id
	c.publishLocked(Event{Type: EventFilter})
	return nil
}

// SetFilterName is SetFilter for a filter name such as "sepia".
func (c *Controller) SetFilterName(name string) error {
	id, ok := filter.Parse(name)
	if !ok && c.opts.StrictFilters {
		return fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return c.SetFilter(id)
}

// SwitchFacing replaces the stream with one from the opposite camera. Without
// an active stream it is a no-op.
func (c *Controller) SwitchFacing(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if !c.state.hasStream() {
		c.mu.Unlock()
		return nil
	}
	cd := c.detachCountdownLocked()
	c.releaseStreamLocked()
	c.facing = c.facing.Flip()
	debug.Verbose("Switching camera to %s", c.facing)
	gen, cons := c.beginAcquireLocked()
	c.mu.Unlock()

	waitCountdown(cd)
	return c.acquire(ctx, gen, cons)
}

// StopSession releases the stream and returns to Idle. A pending countdown
// is cancelled.
func (c *Controller) StopSession() error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	cd := c.teardownLocked(Idle)
	c.mu.Unlock()

	waitCountdown(cd)
	return nil
}

// Shutdown moves to the terminal Stopped state from any state and closes
// every subscription. It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	cd := c.teardownLocked(Stopped)
	c.mu.Unlock()

	waitCountdown(cd)
	c.notify.close()
}

func (c *Controller) teardownLocked(next State) *countdown {
	cd := c.detachCountdownLocked()
	c.releaseStreamLocked()
	c.generation++
	c.setStateLocked(next)
	return cd
}

func (c *Controller) detachCountdownLocked() *countdown {
	cd := c.cd
	c.cd = nil
	if cd != nil {
		cd.cancel()
	}
	return cd
}

func (c *Controller) releaseStreamLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Release(); err != nil {
		debug.Verbose("Stream release: %v", err)
	}
	c.stream = nil
}

func waitCountdown(cd *countdown) {
	if cd != nil {
		<-cd.done
	}
}

// LatestFrame draws the current unfiltered frame into a new image. The
// controller stays responsive while the camera draws.
func (c *Controller) LatestFrame() (*image.RGBA, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return nil, ErrNotLive
	}
	dst := image.NewRGBA(image.Rectangle{Max: stream.Size()})
	if err := stream.DrawFrame(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Filter() filter.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Controller) Facing() camera.Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// FrameSize returns the dimensions of the capture buffer, zero before the
// first stream.
func (c *Controller) FrameSize() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return image.Point{}
	}
	return c.frame.Bounds().Size()
}

// LastError returns the most recent stream or capture failure, nil once a
// new session starts.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:   c.state,
		Filter:  c.filter,
		Preview: filter.Preview(c.filter),
		Facing:  c.facing,
		Photos:  c.gallery.Len(),
	}
	if c.frame != nil {
		size := c.frame.Bounds().Size()
		s.Width, s.Height = size.X, size.Y
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
		var se *camera.StreamError
		if errors.As(c.lastErr, &se) {
			s.ErrorKind = se.Kind.String()
		}
	}
	return s
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	debug.Transition(c.state.String(), next.String())
	c.state = next
	c.publishLocked(Event{Type: EventState})
}

// publishLocked stamps evt with the current state and filter.
func (c *Controller) publishLocked(evt Event) {
	evt.Time = c.opts.Now()
	evt.State = c.state
	evt.Filter = c.filter
	c.notify.publish(evt)
}
