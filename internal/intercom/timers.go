package intercom

import "time"

// Clock abstracts time for the coordinator and its engines.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a pending AfterFunc.
type Stopper interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

type armedTimer struct {
	stopper Stopper
	gen     uint64
}

// timerSet holds the named one-shot timers. Each Arm gets a new generation;
// an expiry is only honoured if its generation is still the armed one, so a
// timer that fires while being replaced or disarmed is ignored.
//
// Not safe for concurrent use; accessed under the coordinator lock only.
type timerSet struct {
	clock Clock
	fire  func(name string, gen uint64)
	armed map[string]armedTimer
	gen   uint64
}

func newTimerSet(clock Clock, fire func(name string, gen uint64)) *timerSet {
	return &timerSet{
		clock: clock,
		fire:  fire,
		armed: make(map[string]armedTimer),
	}
}

// Arm replaces any timer armed under name.
func (t *timerSet) Arm(name string, d time.Duration) {
	t.Disarm(name)
	t.gen++
	gen := t.gen
	t.armed[name] = armedTimer{
		stopper: t.clock.AfterFunc(d, func() { t.fire(name, gen) }),
		gen:     gen,
	}
}

// Disarm cancels the timer armed under name, if any.
func (t *timerSet) Disarm(name string) {
	if a, ok := t.armed[name]; ok {
		a.stopper.Stop()
		delete(t.armed, name)
	}
}

// DisarmAll cancels every timer.
func (t *timerSet) DisarmAll() {
	for name := range t.armed {
		t.Disarm(name)
	}
}

// Expired consumes an expiry. It reports false for stale generations.
func (t *timerSet) Expired(name string, gen uint64) bool {
	a, ok := t.armed[name]
	if !ok || a.gen != gen {
		return false
	}
	delete(t.armed, name)
	return true
}

// Armed reports whether name is pending.
func (t *timerSet) Armed(name string) bool {
	_, ok := t.armed[name]
	return ok
}
