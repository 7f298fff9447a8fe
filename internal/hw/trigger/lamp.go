package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/hw/gpio"
	"github.com/cjeanneret/photobooth/internal/logic/capture"
)

// DefaultFlash is how long the lamp blinks off when a photo is taken.
const DefaultFlash = 150 * time.Millisecond

// Lamp is an output lit while a countdown runs. HIGH = on.
type Lamp struct {
	gpio  gpio.Driver
	pin   int
	flash time.Duration
}

// NewLamp configures pin as an output and switches the lamp off.
func NewLamp(g gpio.Driver, pin int, flash time.Duration) (*Lamp, error) {
	if flash <= 0 {
		flash = DefaultFlash
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &Lamp{gpio: g, pin: pin, flash: flash}, nil
}

// Set switches the lamp.
func (l *Lamp) Set(on bool) error {
	return l.gpio.WritePin(l.pin, gpio.Level(on))
}

// Follow mirrors controller events until ctx ends or events is closed:
// on during a countdown, a short blink when a photo lands, off otherwise.
// The lamp is left off on return.
func (l *Lamp) Follow(ctx context.Context, events <-chan capture.Event) error {
	defer l.Set(false)
	for {
		var evt capture.Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok = <-events:
			if !ok {
				return nil
			}
		}

		var err error
		switch evt.Type {
		case capture.EventCountdown:
			err = l.Set(true)
		case capture.EventPhoto:
			err = l.blink(ctx)
		case capture.EventState, capture.EventError:
			if evt.State != capture.Countdown && evt.State != capture.Capturing {
				err = l.Set(false)
			}
		}
		if err != nil {
			debug.Error(err)
			return err
		}
	}
}

func (l *Lamp) blink(ctx context.Context) error {
	if err := l.Set(false); err != nil {
		return err
	}
	t := time.NewTimer(l.flash)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}
	return l.Set(true)
}
