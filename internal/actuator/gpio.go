package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// GPIORelay drives a relay wired to a GPIO pin.
//
// Thread Safety:
//   - Pulse and Set are serialised; a Set issued during a pulse waits
//     for the pulse to finish.
type GPIORelay struct {
	mu        sync.Mutex
	pin       gpio.PinOut
	activeLow bool
}

// OpenGPIORelay initialises the periph.io host drivers once and opens the
// named pin (for example "GPIO23"). The relay starts released.
func OpenGPIORelay(pinName string, activeLow bool) (*GPIORelay, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, fmt.Errorf("initialising periph host: %w", hostInitErr)
	}

	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("%w: gpio pin %q not found", ErrUnknownRelay, pinName)
	}
	return NewGPIORelay(p, activeLow)
}

// NewGPIORelay wraps an already opened pin and releases it.
func NewGPIORelay(pin gpio.PinOut, activeLow bool) (*GPIORelay, error) {
	r := &GPIORelay{pin: pin, activeLow: activeLow}
	if err := pin.Out(r.level(false)); err != nil {
		return nil, fmt.Errorf("releasing relay on %s: %w", pin, err)
	}
	return r, nil
}

// Pulse energises the pin for d.
func (r *GPIORelay) Pulse(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pin.Out(r.level(true)); err != nil {
		return fmt.Errorf("energising relay on %s: %w", r.pin, err)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	if err := r.pin.Out(r.level(false)); err != nil {
		return fmt.Errorf("releasing relay on %s: %w", r.pin, err)
	}
	return ctx.Err()
}

// Set drives the pin to a steady level.
func (r *GPIORelay) Set(_ context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pin.Out(r.level(on)); err != nil {
		return fmt.Errorf("setting relay on %s: %w", r.pin, err)
	}
	return nil
}

// Release drives the pin to its inactive level. Called on shutdown.
func (r *GPIORelay) Release() error {
	return r.Set(context.Background(), false)
}

func (r *GPIORelay) level(on bool) gpio.Level {
	if r.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}
