// Package trigger drives the optional booth hardware: a physical capture
// button and a countdown lamp, both on GPIO.
package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/hw/gpio"
)

const (
	DefaultPoll     = 10 * time.Millisecond
	DefaultDebounce = 50 * time.Millisecond
)

// ButtonConfig holds the wiring of a push button.
// The button shorts the pin to ground: pressed reads LOW.
type ButtonConfig struct {
	Pin      int
	Poll     time.Duration // sampling period
	Debounce time.Duration // level must hold this long to count
}

// Button polls an active-low input and calls OnPress once per debounced press.
type Button struct {
	gpio    gpio.Driver
	cfg     ButtonConfig
	onPress func()
	samples int

	// Ticks overrides the sampling clock (tests).
	Ticks func(d time.Duration) (<-chan time.Time, func())
}

// NewButton configures pin as a pulled-up input.
func NewButton(g gpio.Driver, cfg ButtonConfig, onPress func()) (*Button, error) {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if err := g.SetupPin(cfg.Pin, gpio.InputPullUp); err != nil {
		return nil, err
	}
	samples := int(cfg.Debounce / cfg.Poll)
	if samples < 1 {
		samples = 1
	}
	return &Button{
		gpio:    g,
		cfg:     cfg,
		onPress: onPress,
		samples: samples,
		Ticks: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}, nil
}

// Run samples the pin until ctx is cancelled. A level change is accepted
// after it has been read on enough consecutive samples to cover Debounce.
func (b *Button) Run(ctx context.Context) error {
	debug.Verbose("Button: watching pin %d (poll %v, debounce %v)", b.cfg.Pin, b.cfg.Poll, b.cfg.Debounce)
	ticks, stop := b.Ticks(b.cfg.Poll)
	defer stop()

	stable := gpio.High // released
	changed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
		}

		level, err := b.gpio.ReadPin(b.cfg.Pin)
		if err != nil {
			return err
		}
		if level == stable {
			changed = 0
			continue
		}
		changed++
		if changed < b.samples {
			continue
		}
		stable = level
		changed = 0
		if stable == gpio.Low {
			debug.GPIO("Button press", b.cfg.Pin, stable)
			if b.onPress != nil {
				b.onPress()
			}
		}
	}
}
