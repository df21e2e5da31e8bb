package intercom

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/message"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/transport"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultLockTimeout      = 100 * time.Millisecond
	DefaultRegisterInterval = 30 * time.Minute
	DefaultRegisterTimeout  = 32 * time.Second
	DefaultCallTimeout      = 30 * time.Second
	DefaultExpires          = 3600
)

// inboxSize bounds messages waiting for the serialized loop.
const inboxSize = 64

// Transport carries SIP datagrams to and from the server.
type Transport interface {
	Send(data []byte) (int, error)
	Serve(ctx context.Context, handler transport.Handler) error
	LocalHost() (string, int)
	Close() error
}

// MappingStore persists the tone table across restarts.
type MappingStore interface {
	Save(ctx context.Context, mappings []dtmf.Mapping) error
}

// Logger defines the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the coordinator settings. Zero durations select the defaults.
type Config struct {
	// Station identifies this door station in events.
	Station string

	Credentials digest.Credentials

	// Callee is dialled by Ring and InitiateCall.
	Callee    string
	UserAgent string

	Expires          int
	RegisterInterval time.Duration
	RegisterTimeout  time.Duration
	CallTimeout      time.Duration

	// LockTimeout bounds every wait for the state lock.
	LockTimeout time.Duration

	// EventBuffer is the notification queue size.
	EventBuffer int

	// Mappings is the initial tone table; nil installs dtmf.DefaultMappings.
	Mappings     []dtmf.Mapping
	DTMFDisabled bool

	Actuator actuator.Config
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Transport Transport
	Door      actuator.Relay
	Light     actuator.Relay

	// Store persists reconfigured tone tables (optional).
	Store MappingStore

	// Notifiers receive every event (optional).
	Notifiers []Notifier

	// Clock defaults to the system clock.
	Clock Clock

	Logger Logger
}

// effects are the side effects queued while the lock is held.
type effects struct {
	builder  *message.Builder
	requests []*message.Request
	replies  [][]byte
	actions  []actuator.Action
	events   []Event
}

// Coordinator owns the engines and serialises every change to them.
//
// All state below the lock is guarded by a one-slot semaphore acquired with
// a bounded wait. The lock is never held across a network send or a relay
// pulse: engines queue requests, and the coordinator flushes them after
// releasing it. Inbound datagrams, timer expiries and send failures are
// posted to one loop goroutine that applies them under the lock.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Coordinator struct {
	cfg    Config
	tr     Transport
	store  MappingStore
	clock  Clock
	logger Logger
	host   string
	router *dtmf.Router
	events *dispatcher

	sem *semaphore.Weighted

	// Guarded by sem.
	builder    *message.Builder
	reg        *register.Engine
	call       *call.Engine
	bridge     *actuator.Bridge
	timers     *timerSet
	fx         effects
	tones      []byte
	running    bool
	stopped    bool
	startedAt  time.Time
	errorCount uint32
	lastError  string
	lastDTMF   time.Time
	lastTone   string

	inbox      chan loopMsg
	accepting  atomic.Bool
	closed     atomic.Bool
	reconfMu   sync.Mutex
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loops      sync.WaitGroup
	applies    sync.WaitGroup
}

// New creates a stopped coordinator.
//
// Parameters:
//   - cfg: station, account and interlock settings
//   - deps: transport, relays and optional sinks
//
// Returns:
//   - *Coordinator: ready to Start
//   - error: wrapping ErrInvalidArgument when cfg or deps are rejected
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, classify(err)
	}
	if deps.Transport == nil || deps.Door == nil || deps.Light == nil {
		return nil, fmt.Errorf("%w: transport and relays are required", ErrInvalidArgument)
	}
	applyDefaults(&cfg)

	c := &Coordinator{
		cfg:    cfg,
		tr:     deps.Transport,
		store:  deps.Store,
		clock:  deps.Clock,
		logger: deps.Logger,
		router: dtmf.NewRouter(),
		sem:    semaphore.NewWeighted(1),
		inbox:  make(chan loopMsg, inboxSize),
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	c.host, _ = c.tr.LocalHost()
	c.builder = c.newBuilder(cfg.Credentials)
	c.timers = newTimerSet(c.clock, c.timerFired)
	c.events = newDispatcher(deps.Notifiers, cfg.EventBuffer, c.logger)
	c.loopCtx, c.loopCancel = context.WithCancel(context.Background())

	if cfg.Mappings != nil {
		if err := c.router.Configure(cfg.Mappings); err != nil {
			return nil, classify(err)
		}
	}
	c.router.SetEnabled(!cfg.DTMFDisabled)

	actCfg := cfg.Actuator
	actCfg.Now = c.clock.Now
	bridge, err := actuator.NewBridge(actCfg, deps.Door, deps.Light, c.timers)
	if err != nil {
		return nil, classify(err)
	}
	bridge.SetLogger(c.logger)
	c.bridge = bridge

	c.buildEngines(cfg.Credentials)
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.RegisterInterval <= 0 {
		cfg.RegisterInterval = DefaultRegisterInterval
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Expires <= 0 {
		cfg.Expires = DefaultExpires
	}
}

// buildEngines replaces both engines. Caller holds the lock (or owns c
// exclusively during New).
func (c *Coordinator) buildEngines(creds digest.Credentials) {
	out := outbox{c: c}

	c.reg = register.New(register.Config{
		Credentials: creds,
		LocalHost:   c.host,
		Expires:     c.cfg.Expires,
		Interval:    c.cfg.RegisterInterval,
		Timeout:     c.cfg.RegisterTimeout,
	}, out, c.timers, c.registrationChanged)
	c.reg.SetLogger(c.logger)

	c.call = call.New(call.Config{
		Credentials: creds,
		LocalHost:   c.host,
		Timeout:     c.cfg.CallTimeout,
		Now:         c.clock.Now,
	}, out, c.timers, callObserver{c: c})
	c.call.SetLogger(c.logger)
}

func (c *Coordinator) newBuilder(creds digest.Credentials) *message.Builder {
	host, port := c.tr.LocalHost()
	return message.NewBuilder(host, port, creds.Username, c.cfg.UserAgent)
}

// outbox queues engine requests until the lock is released.
type outbox struct {
	c *Coordinator
}

func (o outbox) Send(r *message.Request) {
	o.c.fx.requests = append(o.c.fx.requests, r)
}

// lock acquires the state lock within the configured bound.
func (c *Coordinator) lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return ErrStateUnavailable
	}
	return nil
}

// unlock releases the state lock and then performs the queued effects.
// Relay actions are counted before the release so Stop waits for them;
// actions planned after Stop are dropped.
func (c *Coordinator) unlock() {
	fx := c.fx
	fx.builder = c.builder
	c.fx = effects{}
	if c.stopped {
		for range fx.actions {
			c.router.Release()
		}
		fx.actions = nil
	}
	c.applies.Add(countHardware(fx.actions))
	c.sem.Release(1)

	if failed := c.flush(fx); len(failed) > 0 {
		c.sendFailed(failed)
	}
}

// sendFailed hands send failures to the engines on the calling goroutine.
// The loop flushes its own effects, so posting them could block it on its
// own inbox.
func (c *Coordinator) sendFailed(failed []sendFailedMsg) {
	if err := c.sem.Acquire(c.loopCtx, 1); err != nil {
		return
	}
	if c.running {
		for _, m := range failed {
			c.handle(c.loopCtx, m)
		}
	}
	c.unlock()
}

func isHardware(a actuator.Action) bool {
	return a.Kind == actuator.ActionPulse || a.Kind == actuator.ActionSet
}

func countHardware(actions []actuator.Action) int {
	n := 0
	for _, a := range actions {
		if isHardware(a) {
			n++
		}
	}
	return n
}

// do runs fn under the lock.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	c.unlock()
	return err
}

func (c *Coordinator) emit(ev Event) {
	c.fx.events = append(c.fx.events, ev)
}

func (c *Coordinator) meta() EventMeta {
	return newMeta(c.cfg.Station, c.clock.Now())
}

// flush sends queued requests and replies, starts relay actions and
// publishes events. Called without the lock. It returns the requests that
// could not be sent. Nothing is sent once the transport is released.
func (c *Coordinator) flush(fx effects) []sendFailedMsg {
	var failed []sendFailedMsg
	for _, r := range fx.requests {
		if c.closed.Load() {
			break
		}
		data, err := fx.builder.Marshal(r)
		if err != nil {
			c.logger.Error("building request", "method", r.Method, "error", err)
			failed = append(failed, sendFailedMsg{callID: r.CallID, err: fmt.Errorf("%w: %w", ErrProtocolFailure, err)})
			continue
		}
		if _, err := c.tr.Send(data); err != nil {
			c.logger.Warn("sending request", "method", r.Method, "call_id", r.CallID, "error", err)
			failed = append(failed, sendFailedMsg{callID: r.CallID, err: err})
			continue
		}
		c.logger.Debug("request sent", "method", r.Method, "call_id", r.CallID, "cseq", r.CSeq)
	}

	for _, data := range fx.replies {
		if c.closed.Load() {
			break
		}
		if _, err := c.tr.Send(data); err != nil {
			c.logger.Warn("sending reply", "error", err)
		}
	}

	for _, a := range fx.actions {
		c.apply(a)
	}

	for _, ev := range fx.events {
		c.events.publish(ev)
	}
	return failed
}

// apply performs the hardware side of a and frees the router's execution
// slot when done. unlock has already counted a in c.applies.
func (c *Coordinator) apply(a actuator.Action) {
	if !isHardware(a) {
		c.router.Release()
		return
	}

	go func() {
		defer c.applies.Done()
		defer c.router.Release()

		if err := c.bridge.Apply(c.loopCtx, a); err != nil {
			c.logger.Error("relay action failed", "relay", a.Relay, "kind", a.Kind, "error", err)
			c.post(applyFailedMsg{action: a, err: err})
		}
	}()
}

// Start begins serving the transport and registers with the server.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	if c.running || c.stopped {
		c.sem.Release(1)
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	c.running = true
	c.startedAt = c.clock.Now()
	c.accepting.Store(true)
	c.events.start()

	c.loops.Add(2)
	go c.run()
	go c.serve()

	err := c.reg.Start(ctx)
	c.unlock()

	c.logger.Info("intercom started", "station", c.cfg.Station, "user", c.cfg.Credentials.Username)
	return classify(err)
}

// Stop disarms every timer, ends an active call, unregisters and releases
// the transport, in that order. A stopped coordinator cannot be restarted.
func (c *Coordinator) Stop(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	if !c.running {
		c.sem.Release(1)
		return nil
	}
	c.running = false
	c.stopped = true

	c.timers.DisarmAll()
	c.call.Terminate(ctx)
	c.reg.Stop(ctx)
	c.accepting.Store(false)
	c.unlock()

	// Relay actions planned before Stop finish with a live context.
	c.closed.Store(true)
	c.applies.Wait()

	if err := c.tr.Close(); err != nil {
		c.logger.Warn("closing transport", "error", err)
	}
	c.loopCancel()
	c.loops.Wait()
	c.events.stop()

	c.logger.Info("intercom stopped", "station", c.cfg.Station)
	return nil
}

func (c *Coordinator) serve() {
	defer c.loops.Done()
	if err := c.tr.Serve(c.loopCtx, c.HandleInbound); err != nil {
		c.logger.Error("transport stopped", "error", err)
	}
}

// loopMsg is a unit of work for the serialized loop.
type loopMsg interface{}

type inboundMsg struct {
	data []byte
}

type timerMsg struct {
	name string
	gen  uint64
}

type sendFailedMsg struct {
	callID string
	err    error
}

type applyFailedMsg struct {
	action actuator.Action
	err    error
}

// barrierMsg is closed once every earlier message has been handled.
type barrierMsg struct {
	done chan struct{}
}

// post hands m to the loop. It returns false once the coordinator stops.
func (c *Coordinator) post(m loopMsg) bool {
	if !c.accepting.Load() {
		return false
	}
	select {
	case c.inbox <- m:
		return true
	case <-c.loopCtx.Done():
		return false
	}
}

func (c *Coordinator) run() {
	defer c.loops.Done()
	for {
		select {
		case <-c.loopCtx.Done():
			return
		case m := <-c.inbox:
			c.process(m)
		}
	}
}

func (c *Coordinator) process(m loopMsg) {
	if b, ok := m.(barrierMsg); ok {
		close(b.done)
		return
	}

	ctx := c.loopCtx
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	if c.running {
		c.handle(ctx, m)
	}
	c.unlock()
}

// timerFired runs on the clock's goroutine.
func (c *Coordinator) timerFired(name string, gen uint64) {
	c.post(timerMsg{name: name, gen: gen})
}

// HandleInbound is the transport callback. It copies data and queues it for
// the loop; datagrams arriving while stopped are dropped.
func (c *Coordinator) HandleInbound(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if !c.post(inboundMsg{data: buf}) {
		c.logger.Debug("dropping datagram while stopped", "size", len(data))
	}
}
