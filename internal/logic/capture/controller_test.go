package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/hw/camera"
	"github.com/cjeanneret/photobooth/internal/logic/filter"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
)

// manualTicks hands the test control over countdown ticks.
type manualTicks struct {
	ch chan time.Time
}

func newManualTicks() *manualTicks {
	return &manualTicks{ch: make(chan time.Time)}
}

func (m *manualTicks) source(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func (m *manualTicks) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown is not waiting for a tick")
	}
}

type fakeStream struct {
	mu       sync.Mutex
	size     image.Point
	facing   camera.Facing
	drawErr  error
	released int

	// started receives a value (when buffer space allows) as each draw
	// begins; block, when set, holds every draw until it is closed.
	started chan struct{}
	block   chan struct{}
	// mirrorEven draws every second frame with the horizontal gradient
	// reversed.
	mirrorEven bool
	draws      int
}

func (s *fakeStream) Size() image.Point     { return s.size }
func (s *fakeStream) Facing() camera.Facing { return s.facing }

func (s *fakeStream) DrawFrame(dst *image.RGBA) error {
	s.mu.Lock()
	s.draws++
	mirror := s.mirrorEven && s.draws%2 == 0
	started, block := s.started, s.block
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if s.drawErr != nil {
		return s.drawErr
	}
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r := uint8(x)
			if mirror {
				r = uint8(b.Max.X - 1 - x)
			}
			dst.SetRGBA(x, y, color.RGBA{R: r, G: uint8(y), B: 200, A: 255})
		}
	}
	return nil
}

func (s *fakeStream) Release() error {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	stream *fakeStream
	err    error
	gate   chan struct{}
}

func (p *fakeProvider) RequestStream(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	p.mu.Lock()
	p.calls++
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if p.err != nil {
		return nil, p.err
	}
	p.stream.facing = c.Facing
	return p.stream, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestController(t *testing.T, p camera.Provider, opts Options) (*Controller, *manualTicks) {
	t.Helper()
	ticks := newManualTicks()
	opts.Ticks = ticks.source
	if opts.IdealWidth == 0 {
		opts.IdealWidth, opts.IdealHeight = 640, 480
	}
	c := NewController(p, gallery.New(gallery.NewestLast), opts)
	t.Cleanup(c.Shutdown)
	return c, ticks
}

type captureResult struct {
	photo *gallery.Photo
	err   error
}

func captureAsync(c *Controller, ctx context.Context) <-chan captureResult {
	out := make(chan captureResult, 1)
	go func() {
		p, err := c.Capture(ctx)
		out <- captureResult{p, err}
	}()
	return out
}

func waitResult(t *testing.T, ch <-chan captureResult) captureResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not complete")
		return captureResult{}
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartSession_PermissionDenied(t *testing.T) {
	kind := camera.KindPermissionDenied
	p := camera.NewPattern()
	p.Fail = &kind
	c, _ := newTestController(t, p, Options{})

	err := c.StartSession(context.Background())
	var se *camera.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("StartSession error = %v, want *camera.StreamError", err)
	}
	if se.Kind != camera.KindPermissionDenied {
		t.Errorf("kind = %s, want permission_denied", se.Kind)
	}
	if got := c.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if err := c.RequestCapture(); !errors.Is(err, ErrNotLive) {
		t.Errorf("RequestCapture = %v, want ErrNotLive", err)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
	if snap := c.Snapshot(); snap.ErrorKind != "permission_denied" {
		t.Errorf("snapshot error kind = %q", snap.ErrorKind)
	}
}

func TestCapture_SepiaAfterThreeTicks(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := c.FrameSize(); got != image.Pt(640, 480) {
		t.Fatalf("FrameSize = %v, want 640x480", got)
	}
	if err := c.SetFilterName("sepia"); err != nil {
		t.Fatal(err)
	}

	res := captureAsync(c, context.Background())
	for i := 0; i < CountdownTicks; i++ {
		ticks.tick(t)
	}
	r := waitResult(t, res)
	if r.err != nil {
		t.Fatalf("Capture: %v", r.err)
	}
	if n := c.Gallery().Len(); n != 1 {
		t.Fatalf("gallery length = %d, want 1", n)
	}
	if r.photo.Filter() != filter.Sepia {
		t.Errorf("photo filter = %s, want sepia", r.photo.Filter())
	}
	if r.photo.Width() != 640 || r.photo.Height() != 480 {
		t.Errorf("photo size = %dx%d", r.photo.Width(), r.photo.Height())
	}
	if got := c.State(); got != Live {
		t.Errorf("state after capture = %s, want live", got)
	}
}

func TestCapture_ExactlyThreeTicks(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	events, unsub := c.Subscribe()
	defer unsub()

	res := captureAsync(c, context.Background())
	ticks.tick(t)
	ticks.tick(t)
	if got := c.State(); got != Countdown {
		t.Errorf("state after 2 ticks = %s, want countdown", got)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length after 2 ticks = %d, want 0", n)
	}
	ticks.tick(t)
	if r := waitResult(t, res); r.err != nil {
		t.Fatal(r.err)
	}

	var remaining []int
	for len(events) > 0 {
		evt := <-events
		if evt.Type == EventCountdown {
			remaining = append(remaining, evt.Remaining)
		}
	}
	want := []int{3, 2, 1}
	if len(remaining) != len(want) {
		t.Fatalf("countdown events = %v, want %v", remaining, want)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("countdown events = %v, want %v", remaining, want)
			break
		}
	}
}

func TestCapture_KeepsOrderAndFilters(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, f := range []filter.ID{filter.Grayscale, filter.Invert} {
		if err := c.SetFilter(f); err != nil {
			t.Fatal(err)
		}
		res := captureAsync(c, context.Background())
		for i := 0; i < CountdownTicks; i++ {
			ticks.tick(t)
		}
		if r := waitResult(t, res); r.err != nil {
			t.Fatal(r.err)
		}
	}

	photos := c.Gallery().List()
	if len(photos) != 2 {
		t.Fatalf("gallery length = %d, want 2", len(photos))
	}
	if photos[0].Filter() != filter.Grayscale || photos[1].Filter() != filter.Invert {
		t.Errorf("filters = [%s %s], want [grayscale invert]", photos[0].Filter(), photos[1].Filter())
	}

	img, err := png.Decode(bytes.NewReader(photos[0].PNG()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 37 {
		for x := b.Min.X; x < b.Max.X; x += 41 {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != g || g != bl {
				t.Fatalf("grayscale photo pixel (%d,%d) = %d,%d,%d", x, y, r>>8, g>>8, bl>>8)
			}
		}
	}
}

func TestRequestCapture_IgnoredOutsideLive(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.RequestCapture(); !errors.Is(err, ErrNotLive) {
		t.Errorf("idle RequestCapture = %v, want ErrNotLive", err)
	}
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestCapture(); err != nil {
		t.Fatalf("live RequestCapture = %v", err)
	}
	if err := c.RequestCapture(); !errors.Is(err, ErrNotLive) {
		t.Errorf("RequestCapture during countdown = %v, want ErrNotLive", err)
	}
	for i := 0; i < CountdownTicks; i++ {
		ticks.tick(t)
	}
	waitState(t, c, Live)
	if n := c.Gallery().Len(); n != 1 {
		t.Errorf("gallery length = %d, want 1", n)
	}
}

func TestSetFilterName(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		input   string
		want    filter.ID
		wantErr error
	}{
		{"known", false, "Sepia", filter.Sepia, nil},
		{"unknown fails open", false, "vintage", filter.None, nil},
		{"unknown strict", true, "vintage", filter.Invert, ErrUnknownFilter},
		{"known strict", true, "grayscale", filter.Grayscale, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(t, camera.NewPattern(), Options{Filter: filter.Invert, StrictFilters: tt.strict})
			err := c.SetFilterName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := c.Filter(); got != tt.want {
				t.Errorf("filter = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSetFilter_InvalidID(t *testing.T) {
	c, _ := newTestController(t, camera.NewPattern(), Options{Filter: filter.Sepia})
	if err := c.SetFilter(filter.ID(42)); err != nil {
		t.Fatal(err)
	}
	if got := c.Filter(); got != filter.None {
		t.Errorf("filter = %s, want none", got)
	}
}

func TestSwitchFacing_NoStreamIsNoop(t *testing.T) {
	p := &fakeProvider{stream: &fakeStream{size: image.Pt(32, 24)}}
	c, _ := newTestController(t, p, Options{})
	if err := c.SwitchFacing(context.Background()); err != nil {
		t.Fatalf("SwitchFacing = %v", err)
	}
	if got := c.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if got := c.Facing(); got != camera.FacingUser {
		t.Errorf("facing = %s, want user", got)
	}
	if n := p.callCount(); n != 0 {
		t.Errorf("provider called %d times", n)
	}
}

func TestSwitchFacing_ReplacesStream(t *testing.T) {
	c, _ := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchFacing(context.Background()); err != nil {
		t.Fatalf("SwitchFacing: %v", err)
	}
	if got := c.Facing(); got != camera.FacingEnvironment {
		t.Errorf("facing = %s, want environment", got)
	}
	if got := c.State(); got != Live {
		t.Errorf("state = %s, want live", got)
	}
}

func TestSwitchFacing_CancelsCountdown(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	res := captureAsync(c, context.Background())
	ticks.tick(t)
	if err := c.SwitchFacing(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r := waitResult(t, res); !errors.Is(r.err, ErrCaptureCancelled) {
		t.Errorf("capture err = %v, want ErrCaptureCancelled", r.err)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
}

func TestShutdown_CancelsCountdown(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	events, _ := c.Subscribe()

	res := captureAsync(c, context.Background())
	ticks.tick(t)
	c.Shutdown()

	if r := waitResult(t, res); !errors.Is(r.err, ErrCaptureCancelled) {
		t.Errorf("capture err = %v, want ErrCaptureCancelled", r.err)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
	if got := c.State(); got != Stopped {
		t.Errorf("state = %s, want stopped", got)
	}
	for range events {
		// drain until the subscription is closed
	}
	if err := c.StartSession(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("StartSession after Shutdown = %v, want ErrStopped", err)
	}
	if err := c.RequestCapture(); !errors.Is(err, ErrStopped) {
		t.Errorf("RequestCapture after Shutdown = %v, want ErrStopped", err)
	}
	c.Shutdown()
}

func TestCapture_ContextCancelReturnsToLive(t *testing.T) {
	c, ticks := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	res := captureAsync(c, ctx)
	ticks.tick(t)
	cancel()

	if r := waitResult(t, res); !errors.Is(r.err, ErrCaptureCancelled) {
		t.Errorf("capture err = %v, want ErrCaptureCancelled", r.err)
	}
	if got := c.State(); got != Live {
		t.Errorf("state = %s, want live", got)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
}

func TestCapture_DrawFailureLeavesGalleryUnchanged(t *testing.T) {
	stream := &fakeStream{size: image.Pt(16, 16), drawErr: errors.New("frame lost")}
	c, ticks := newTestController(t, &fakeProvider{stream: stream}, Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	res := captureAsync(c, context.Background())
	for i := 0; i < CountdownTicks; i++ {
		ticks.tick(t)
	}
	r := waitResult(t, res)
	var ce *CaptureError
	if !errors.As(r.err, &ce) {
		t.Fatalf("err = %v, want *CaptureError", r.err)
	}
	if ce.Op != "draw" {
		t.Errorf("op = %q, want draw", ce.Op)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
	if got := c.State(); got != Live {
		t.Errorf("state = %s, want live", got)
	}
}

func TestStartSession_LateStreamReleased(t *testing.T) {
	stream := &fakeStream{size: image.Pt(16, 16)}
	p := &fakeProvider{stream: stream, gate: make(chan struct{})}
	c, _ := newTestController(t, p, Options{})

	errc := make(chan error, 1)
	go func() { errc <- c.StartSession(context.Background()) }()
	waitState(t, c, AwaitingStream)

	if err := c.StopSession(); err != nil {
		t.Fatal(err)
	}
	close(p.gate)

	if err := <-errc; !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartSession = %v, want ErrInvalidState", err)
	}
	if got := c.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if n := stream.releaseCount(); n != 1 {
		t.Errorf("late stream released %d times, want 1", n)
	}
}

func TestStartSession_InvalidState(t *testing.T) {
	c, _ := newTestController(t, camera.NewPattern(), Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.StartSession(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second StartSession = %v, want ErrInvalidState", err)
	}
	if err := c.StopSession(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartSession(context.Background()); err != nil {
		t.Errorf("restart after StopSession = %v", err)
	}
}

func TestLatestFrame(t *testing.T) {
	c, _ := newTestController(t, camera.NewPattern(), Options{IdealWidth: 64, IdealHeight: 48})
	if _, err := c.LatestFrame(); !errors.Is(err, ErrNotLive) {
		t.Errorf("LatestFrame before start = %v, want ErrNotLive", err)
	}
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	img, err := c.LatestFrame()
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(64, 48) {
		t.Errorf("frame size = %v", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle: "idle", AwaitingStream: "awaiting_stream", Live: "live",
		Countdown: "countdown", Capturing: "capturing", Stopped: "stopped", State(99): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestLatestFrame_ControllerStaysResponsive(t *testing.T) {
	stream := &fakeStream{size: image.Pt(16, 12), started: make(chan struct{}, 1), block: make(chan struct{})}
	c, _ := newTestController(t, &fakeProvider{stream: stream}, Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	frameErr := make(chan error, 1)
	go func() {
		_, err := c.LatestFrame()
		frameErr <- err
	}()
	select {
	case <-stream.started:
	case <-time.After(2 * time.Second):
		t.Fatal("preview draw did not start")
	}

	stateCh := make(chan State, 1)
	go func() { stateCh <- c.State() }()
	select {
	case got := <-stateCh:
		if got != Live {
			t.Errorf("state = %s, want live", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("State() blocked while a preview frame was drawn")
	}
	if err := c.SetFilter(filter.Sepia); err != nil {
		t.Errorf("SetFilter during draw: %v", err)
	}

	close(stream.block)
	if err := <-frameErr; err != nil {
		t.Errorf("LatestFrame: %v", err)
	}
}

func TestCapture_StopWhileDrawingAddsNoPhoto(t *testing.T) {
	stream := &fakeStream{size: image.Pt(16, 12), started: make(chan struct{}, 1), block: make(chan struct{})}
	c, ticks := newTestController(t, &fakeProvider{stream: stream}, Options{})
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	res := captureAsync(c, context.Background())
	for i := 0; i < CountdownTicks; i++ {
		ticks.tick(t)
	}
	select {
	case <-stream.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture draw did not start")
	}
	if got := c.State(); got != Capturing {
		t.Errorf("state while drawing = %s, want capturing", got)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.StopSession() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("StopSession blocked behind the camera draw")
	}

	close(stream.block)
	if r := waitResult(t, res); !errors.Is(r.err, ErrCaptureCancelled) {
		t.Errorf("Capture = %v, want ErrCaptureCancelled", r.err)
	}
	if n := c.Gallery().Len(); n != 0 {
		t.Errorf("gallery length = %d, want 0", n)
	}
	if got := c.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestStartSession_CancelledContext(t *testing.T) {
	c, _ := newTestController(t, camera.NewPattern(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.StartSession(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("StartSession = %v, want context.Canceled", err)
	}
	var se *camera.StreamError
	if errors.As(err, &se) {
		t.Errorf("cancelled start reported as stream failure %s", se.Kind)
	}
	if got := c.State(); got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if snap := c.Snapshot(); snap.ErrorKind != "" {
		t.Errorf("snapshot error kind = %q, want none", snap.ErrorKind)
	}
}

func TestCapture_FrozenFeedWarning(t *testing.T) {
	zero, off := 0, -1
	cases := []struct {
		name     string
		distance *int
		mirror   bool
		want     bool
	}{
		{"identical_default", nil, false, true},
		{"identical_zero", &zero, false, true},
		{"different_frames", nil, true, false},
		{"disabled", &off, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var logs bytes.Buffer
			debug.SetOutput(&logs)
			debug.Init(debug.LevelInfo)
			t.Cleanup(func() {
				debug.Init(debug.LevelOff)
				debug.SetOutput(os.Stdout)
			})

			stream := &fakeStream{size: image.Pt(64, 48), mirrorEven: tc.mirror}
			c, ticks := newTestController(t, &fakeProvider{stream: stream}, Options{DuplicateDistance: tc.distance})
			if err := c.StartSession(context.Background()); err != nil {
				t.Fatal(err)
			}
			for shot := 0; shot < 2; shot++ {
				res := captureAsync(c, context.Background())
				for i := 0; i < CountdownTicks; i++ {
					ticks.tick(t)
				}
				if r := waitResult(t, res); r.err != nil {
					t.Fatal(r.err)
				}
			}

			if n := c.Gallery().Len(); n != 2 {
				t.Errorf("gallery length = %d, want 2", n)
			}
			got := strings.Contains(logs.String(), "camera feed may be frozen")
			if got != tc.want {
				t.Errorf("frozen-feed warning = %v, want %v; log:\n%s", got, tc.want, logs.String())
			}
		})
	}
}
