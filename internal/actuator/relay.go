package actuator

import (
	"context"
	"sync"
	"time"
)

// Relay names used in actions and status reports.
const (
	RelayDoor  = "door"
	RelayLight = "light"
)

// Relay is a single switched output.
type Relay interface {
	// Pulse energises the relay for d and then releases it. It returns
	// once the relay is released or ctx is cancelled; the relay is
	// released in both cases.
	Pulse(ctx context.Context, d time.Duration) error

	// Set drives the relay to a steady level.
	Set(ctx context.Context, on bool) error
}

// MemoryRelay records relay activity without touching hardware.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MemoryRelay struct {
	mu     sync.Mutex
	on     bool
	pulses []time.Duration
	sets   []bool
	err    error
}

// NewMemoryRelay creates a released in-memory relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{}
}

// Pulse records d without sleeping.
func (m *MemoryRelay) Pulse(_ context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pulses = append(m.pulses, d)
	return nil
}

// Set records the level.
func (m *MemoryRelay) Set(_ context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.on = on
	m.sets = append(m.sets, on)
	return nil
}

// FailWith makes subsequent calls return err. Pass nil to recover.
func (m *MemoryRelay) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Pulses returns the recorded pulse lengths.
func (m *MemoryRelay) Pulses() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.pulses))
	copy(out, m.pulses)
	return out
}

// Sets returns the recorded levels.
func (m *MemoryRelay) Sets() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.sets))
	copy(out, m.sets)
	return out
}

// On reports the last level set.
func (m *MemoryRelay) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}
