package hotkey

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/talkback/pkg/types"
)

// Default timings.
const (
	DefaultHoldThreshold = 500 * time.Millisecond
	DefaultClearDelay    = 2 * time.Second
)

// eventQueueSize bounds the number of events waiting for the owner goroutine.
const eventQueueSize = 64

// Listener receives the machine's callbacks. All methods are invoked from the
// machine's goroutine, one at a time and in transition order. They must not
// block for long; a slow listener delays every following key event.
type Listener interface {
	OnRecordStart()
	OnRecordStop()
	OnTranslateStart()
	OnTranslateStop()
	// OnStateChange reports every state change together with its status line.
	OnStateChange(state State, message string)
}

type nopListener struct{}

func (nopListener) OnRecordStart() {}
func (nopListener) OnRecordStop() {}
func (nopListener) OnTranslateStart() {}
func (nopListener) OnTranslateStop() {}
func (nopListener) OnStateChange(State, string) {}

// envelope carries either an event or a flush acknowledgement channel.
type envelope struct {
	ev  Event
	ack chan struct{}
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. [time.AfterFunc] satisfies it through
// [RealScheduler].
type Scheduler func(d time.Duration, f func()) Timer

// RealScheduler schedules with [time.AfterFunc].
func RealScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a [Machine].
type Option func(*Machine)

// WithHoldThreshold sets how long the primary key must be held before a
// recording starts.
func WithHoldThreshold(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.hold = d
		}
	}
}

// WithClearDelay sets how long Warning and Error stay visible.
func WithClearDelay(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.clearDelay = d
		}
	}
}

// WithScheduler replaces the timer implementation.
func WithScheduler(s Scheduler) Option {
	return func(m *Machine) {
		if s != nil {
			m.schedule = s
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// Machine is the single owner of a [Status]. Key handlers, timers and the
// client all post events; [Machine.Run] applies them one by one.
//
// All methods are safe for concurrent use.
type Machine struct {
	bindings   Bindings
	translate  bool
	disabled   bool
	hold       time.Duration
	clearDelay time.Duration
	schedule   Scheduler
	now        func() time.Time
	log        *slog.Logger
	listener   Listener

	events  chan envelope
	done    chan struct{}
	runOnce sync.Once
	state   atomic.Int32

	// Owned by the Run goroutine.
	status     Status
	holdTimer  Timer
	clearTimer Timer
}

// New builds a Machine for b. An invalid primary key turns the whole machine
// into a logged no-op; an invalid modifier only disables translate mode.
// Either way New succeeds, so a bad key binding never takes the client down.
func New(b Bindings, l Listener, opts ...Option) *Machine {
	m := &Machine{
		hold:       DefaultHoldThreshold,
		clearDelay: DefaultClearDelay,
		schedule:   RealScheduler,
		now:        time.Now,
		log:        slog.Default(),
		listener:   l,
		events:     make(chan envelope, eventQueueSize),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.listener == nil {
		m.listener = nopListener{}
	}

	if err := b.Validate(); err != nil {
		var cfgErr *types.ConfigError
		for _, e := range unwrapAll(err) {
			if errors.As(e, &cfgErr) && cfgErr.Field == "primary" {
				m.disabled = true
			}
		}
		if m.disabled {
			m.log.Error("hotkey disabled: invalid primary key", "primary", b.Primary, "err", err)
		} else {
			m.log.Warn("hotkey translate mode disabled: invalid modifier key", "modifier", b.Modifier, "err", err)
		}
	}

	if !m.disabled {
		m.bindings.Primary, _ = ParseKey(string(b.Primary))
		if mod, err := ParseKey(string(b.Modifier)); err == nil && mod.Code() != m.bindings.Primary.Code() {
			m.bindings.Modifier = mod
			m.translate = true
		}
	}
	return m
}

// unwrapAll flattens an errors.Join tree one level.
func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// Enabled reports whether the primary key binding is usable.
func (m *Machine) Enabled() bool { return !m.disabled }

// TranslateEnabled reports whether the modifier gesture is available.
func (m *Machine) TranslateEnabled() bool { return m.translate }

// Bindings returns the normalised key bindings.
func (m *Machine) Bindings() Bindings { return m.bindings }

// State returns the current state. It may lag the event queue slightly.
func (m *Machine) State() State { return State(m.state.Load()) }

// OnPress feeds a key-down. Keys that are not bound are ignored.
func (m *Machine) OnPress(k Key) { m.onKey(k, true) }

// OnRelease feeds a key-up.
func (m *Machine) OnRelease(k Key) { m.onKey(k, false) }

// OnCode feeds a raw input event code, as read from an evdev device.
func (m *Machine) OnCode(code uint16, down bool) {
	if m.disabled || code == 0 {
		return
	}
	switch {
	case code == m.bindings.Primary.Code():
		m.post(Event{Kind: pick(down, PrimaryDown, PrimaryUp)})
	case m.translate && code == m.bindings.Modifier.Code():
		m.post(Event{Kind: pick(down, ModifierDown, ModifierUp)})
	}
}

func (m *Machine) onKey(k Key, down bool) {
	if m.disabled {
		return
	}
	m.OnCode(k.Code(), down)
}

func pick(down bool, a, b EventKind) EventKind {
	if down {
		return a
	}
	return b
}

// Warn shows msg in the Warning state until the clear delay elapses.
func (m *Machine) Warn(msg string) { m.post(Event{Kind: Warn, Message: msg}) }

// Fail shows msg in the Error state until the clear delay elapses.
func (m *Machine) Fail(msg string) { m.post(Event{Kind: Fail, Message: msg}) }

// Done returns Processing or Translating to Idle.
func (m *Machine) Done() { m.post(Event{Kind: Done}) }

// Reset cancels timers and forces Idle.
func (m *Machine) Reset() { m.post(Event{Kind: Reset}) }

// post queues ev unless the machine has stopped.
func (m *Machine) post(ev Event) {
	if m.disabled {
		return
	}
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	select {
	case m.events <- envelope{ev: ev}:
	case <-m.done:
	}
}

// flush blocks until every event queued before the call has been applied.
func (m *Machine) flush() {
	ack := make(chan struct{})
	select {
	case m.events <- envelope{ack: ack}:
	case <-m.done:
		return
	}
	select {
	case <-ack:
	case <-m.done:
	}
}

// Run processes events until ctx is cancelled. It must be called exactly
// once; further calls return immediately.
func (m *Machine) Run(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("hotkey: machine already running")
	}
	defer close(m.done)
	defer m.stopTimers()

	if m.disabled {
		<-ctx.Done()
		return nil
	}
	m.log.Info("hotkey listening",
		"primary", m.bindings.Primary,
		"modifier", m.bindings.Modifier,
		"translate", m.translate,
		"hold_threshold", m.hold,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-m.events:
			if env.ack != nil {
				close(env.ack)
				continue
			}
			m.apply(env.ev)
		}
	}
}

// apply runs one transition and its effects on the owner goroutine.
func (m *Machine) apply(ev Event) {
	next, fx := Transition(m.status, ev)
	m.status = next
	m.state.Store(int32(next.State))

	for _, e := range fx {
		switch e.Kind {
		case ArmHold:
			m.stop(&m.holdTimer)
			seq := e.Seq
			m.holdTimer = m.schedule(m.hold, func() {
				m.post(Event{Kind: HoldElapsed, Seq: seq})
			})
		case CancelHold:
			m.stop(&m.holdTimer)
		case ArmClear:
			m.stop(&m.clearTimer)
			seq := e.Seq
			m.clearTimer = m.schedule(m.clearDelay, func() {
				m.post(Event{Kind: ClearElapsed, Seq: seq})
			})
		case CancelClear:
			m.stop(&m.clearTimer)
		case RecordStart:
			m.log.Debug("hotkey record start")
			m.listener.OnRecordStart()
		case RecordStop:
			m.log.Debug("hotkey record stop", "held", m.now().Sub(next.PressedAt))
			m.listener.OnRecordStop()
		case TranslateStart:
			m.log.Debug("hotkey translate start")
			m.listener.OnTranslateStart()
		case TranslateStop:
			m.log.Debug("hotkey translate stop", "held", m.now().Sub(next.PressedAt))
			m.listener.OnTranslateStop()
		case Notify:
			m.listener.OnStateChange(next.State, next.State.Display(next.Message))
		}
	}
}

func (m *Machine) stop(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Machine) stopTimers() {
	m.stop(&m.holdTimer)
	m.stop(&m.clearTimer)
}
