package dtmf

import (
	"sync/atomic"
)

// Router maps tones to commands.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The table is swapped
//     atomically, so Route never observes a partially applied Configure.
type Router struct {
	table    atomic.Pointer[[]Mapping]
	disabled atomic.Bool
	inFlight atomic.Bool
}

// NewRouter creates a router with DefaultMappings installed.
func NewRouter() *Router {
	r := &Router{}
	defaults := DefaultMappings()
	r.table.Store(&defaults)
	return r
}

// Route returns the command and parameter for tone.
// It returns CommandNone when no enabled entry matches or routing is off.
func (r *Router) Route(tone byte) (Command, uint32) {
	if r.disabled.Load() {
		return CommandNone, 0
	}
	for _, m := range *r.table.Load() {
		if m.Enabled && m.Tone[0] == tone {
			return m.Command, m.Param
		}
	}
	return CommandNone, 0
}

// Configure replaces the whole table after validating every entry.
// On error the current table is left untouched.
func (r *Router) Configure(mappings []Mapping) error {
	if err := ValidateMappings(mappings); err != nil {
		return err
	}
	table := make([]Mapping, len(mappings))
	copy(table, mappings)
	r.table.Store(&table)
	return nil
}

// Mappings returns a copy of the current table.
func (r *Router) Mappings() []Mapping {
	current := *r.table.Load()
	out := make([]Mapping, len(current))
	copy(out, current)
	return out
}

// SetEnabled switches routing on or off globally.
func (r *Router) SetEnabled(enabled bool) {
	r.disabled.Store(!enabled)
}

// Enabled reports whether routing is on.
func (r *Router) Enabled() bool {
	return !r.disabled.Load()
}

// TryAcquire claims the single execution slot. It returns ErrBusy when a
// command is already executing.
func (r *Router) TryAcquire() error {
	if !r.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Release frees the execution slot.
func (r *Router) Release() {
	r.inFlight.Store(false)
}
