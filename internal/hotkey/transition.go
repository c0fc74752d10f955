package hotkey

import "time"

// EventKind identifies an input to [Transition].
type EventKind int

const (
	PrimaryDown EventKind = iota + 1
	PrimaryUp
	ModifierDown
	ModifierUp
	// HoldElapsed is delivered by the hold timer armed for press Seq.
	HoldElapsed
	// ClearElapsed is delivered by the clear timer armed for entry Seq.
	ClearElapsed
	// Warn and Fail show Message in the Warning or Error state.
	Warn
	Fail
	// Done ends Processing or Translating.
	Done
	// Reset forces Idle.
	Reset
)

var eventNames = map[EventKind]string{
	PrimaryDown:  "primary_down",
	PrimaryUp:    "primary_up",
	ModifierDown: "modifier_down",
	ModifierUp:   "modifier_up",
	HoldElapsed:  "hold_elapsed",
	ClearElapsed: "clear_elapsed",
	Warn:         "warn",
	Fail:         "fail",
	Done:         "done",
	Reset:        "reset",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is one input to the transition table.
type Event struct {
	Kind    EventKind
	At      time.Time
	Seq     uint64
	Message string
}

// EffectKind identifies a side effect requested by [Transition].
type EffectKind int

const (
	// ArmHold starts the hold timer for press Seq.
	ArmHold EffectKind = iota + 1
	// CancelHold stops a pending hold timer.
	CancelHold
	// ArmClear starts the auto-clear timer for entry Seq.
	ArmClear
	// CancelClear stops a pending auto-clear timer.
	CancelClear
	RecordStart
	RecordStop
	TranslateStart
	TranslateStop
	// Notify reports the new state and its message.
	Notify
)

// Effect is one side effect the machine must apply, in order.
type Effect struct {
	Kind EffectKind
	Seq  uint64
}

// Transition computes the next status for ev. It has no side effects; timers
// and callbacks are returned as effects for the caller to apply.
func Transition(s Status, ev Event) (Status, []Effect) {
	prev := s
	var fx []Effect

	switch ev.Kind {
	case PrimaryDown:
		if s.PrimaryHeld {
			// Auto-repeat.
			return s, nil
		}
		s.PrimaryHeld = true
		if s.State != Idle {
			return s, nil
		}
		s.Press++
		s.PressedAt = ev.At
		s.Triggered = false
		s.State = Armed
		fx = append(fx, Effect{Kind: ArmHold, Seq: s.Press})

	case PrimaryUp:
		if !s.PrimaryHeld {
			return s, nil
		}
		s.PrimaryHeld = false
		s.ModifierHeld = false
		switch {
		case s.State == Armed:
			// Short tap.
			s.State = Idle
			fx = append(fx, Effect{Kind: CancelHold})
		case s.Triggered && s.State == Recording:
			s.State = Processing
			fx = append(fx, Effect{Kind: RecordStop})
		case s.Triggered && s.State == RecordingAlt:
			s.State = Translating
			fx = append(fx, Effect{Kind: TranslateStop})
		}
		s.Triggered = false

	case ModifierDown:
		s.ModifierHeld = true

	case ModifierUp:
		s.ModifierHeld = false
		if s.State == RecordingAlt && s.Triggered && !s.PrimaryHeld {
			s.State = Translating
			s.Triggered = false
			fx = append(fx, Effect{Kind: TranslateStop})
		}

	case HoldElapsed:
		if s.State != Armed || ev.Seq != s.Press || !s.PrimaryHeld || s.Triggered {
			return s, nil
		}
		s.Triggered = true
		if s.ModifierHeld {
			s.State = RecordingAlt
			fx = append(fx, Effect{Kind: TranslateStart})
		} else {
			s.State = Recording
			fx = append(fx, Effect{Kind: RecordStart})
		}

	case Warn, Fail:
		switch s.State {
		case Armed, Recording, RecordingAlt:
			// A gesture in progress owns the status line.
			return s, nil
		}
		s.State = Warning
		if ev.Kind == Fail {
			s.State = Error
		}
		s.Message = ev.Message
		s.Clear++
		fx = append(fx, Effect{Kind: CancelClear}, Effect{Kind: ArmClear, Seq: s.Clear})

	case ClearElapsed:
		if ev.Seq != s.Clear || (s.State != Warning && s.State != Error) {
			return s, nil
		}
		s.State = Idle
		s.Message = ""

	case Done:
		if s.State != Processing && s.State != Translating {
			return s, nil
		}
		s.State = Idle

	case Reset:
		fx = append(fx, Effect{Kind: CancelHold}, Effect{Kind: CancelClear})
		s = Status{Press: s.Press + 1, Clear: s.Clear + 1}
	}

	if s.State != prev.State || s.Message != prev.Message {
		fx = append(fx, Effect{Kind: Notify})
	}
	return s, fx
}
