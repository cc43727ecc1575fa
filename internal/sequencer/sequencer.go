// Package sequencer drives the ground-side launch state machine: the
// progression Idle -> Armed -> Countdown -> Ignition -> Flight, with abort,
// fault and link-loss handling. It owns no I/O; the station feeds it
// acknowledged commands, telemetry-derived events and a periodic tick.
package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"groundlink/internal/protocol"
)

// State is the current phase of the launch sequence.
type State uint8

const (
	StateIdle State = iota
	StateArmed
	StateCountdown
	StateIgnition
	StateFlight
	StateAborted
	StateFault
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateCountdown:
		return "countdown"
	case StateIgnition:
		return "ignition"
	case StateFlight:
		return "flight"
	case StateAborted:
		return "aborted"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state only leaves through a reset.
func (s State) Terminal() bool {
	return s == StateFlight || s == StateAborted || s == StateFault
}

// Cause labels what triggered a transition.
type Cause string

const (
	CauseArm          Cause = "arm"
	CauseDisarm       Cause = "disarm"
	CauseFire         Cause = "fire"
	CauseTick         Cause = "countdown tick"
	CauseIgnition     Cause = "countdown complete"
	CauseConfirm      Cause = "ignition detected"
	CauseTimeout      Cause = "ignition confirm timeout"
	CauseAbort        Cause = "abort"
	CauseLinkDown     Cause = "link down"
	CauseIgniteFailed Cause = "ignition refused"
	CauseHold         Cause = "preconditions regressed"
	CauseReset        Cause = "reset"
)

// Transition is one state change. Remaining counts countdown ticks still to
// go and is meaningful while To is Countdown.
type Transition struct {
	From      State
	To        State
	Remaining int
	Cause     Cause
	At        time.Time
}

var (
	ErrNotIdle        = errors.New("sequencer: arm requires idle")
	ErrNotArmed       = errors.New("sequencer: command requires armed")
	ErrSequenceActive = errors.New("sequencer: launch sequence active")
	ErrPreconditions  = errors.New("sequencer: launch preconditions not met")
)

// Preconditions gates the fire command: go/no-go from latest telemetry.
type Preconditions interface {
	Check(now time.Time) error
}

const (
	DefaultCountdownTicks  = 3
	DefaultIgnitionTimeout = 10 * time.Second
)

// Config tunes the sequence. Zero values fall back to the defaults above; a
// nil Preconditions means fire is always go.
type Config struct {
	CountdownTicks  int
	IgnitionTimeout time.Duration
	Preconditions   Preconditions

	// OnTransition observes every state change, on the owner's goroutine.
	OnTransition func(Transition)
}

func (c Config) withDefaults() Config {
	if c.CountdownTicks <= 0 {
		c.CountdownTicks = DefaultCountdownTicks
	}
	if c.IgnitionTimeout <= 0 {
		c.IgnitionTimeout = DefaultIgnitionTimeout
	}
	return c
}

// Sequencer holds the launch state. Methods are not safe for concurrent
// use; a single owner goroutine must drive them.
type Sequencer struct {
	logger *slog.Logger
	cfg    Config

	state      State
	remaining  int
	ignitionAt time.Time
}

func New(logger *slog.Logger, cfg Config) *Sequencer {
	return &Sequencer{
		logger: logger.With("component", "sequencer"),
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
	}
}

func (s *Sequencer) State() State { return s.state }

// Remaining is the number of countdown ticks still to go.
func (s *Sequencer) Remaining() int { return s.remaining }

// Veto rejects operator commands that are illegal in the current state.
// It is checked before a command is put on the wire; fire is checked again
// when the acknowledgement lands, since preconditions can regress in
// between.
func (s *Sequencer) Veto(kind protocol.Kind, now time.Time) error {
	switch kind {
	case protocol.KindArm:
		if s.state != StateIdle {
			return fmt.Errorf("%w, currently %s", ErrNotIdle, s.state)
		}
	case protocol.KindDisarm:
		if s.state != StateArmed {
			return fmt.Errorf("%w, currently %s", ErrNotArmed, s.state)
		}
	case protocol.KindFire:
		if s.state != StateArmed {
			return fmt.Errorf("%w, currently %s", ErrNotArmed, s.state)
		}
		return s.precheck(now)
	case protocol.KindReset:
		if s.state == StateCountdown || s.state == StateIgnition {
			return fmt.Errorf("%w, abort first", ErrSequenceActive)
		}
	}

	return nil
}

// CommandAcked applies the state effect of a remotely acknowledged command.
// Commands overtaken by an abort are dropped silently. The returned error is
// non-nil only when a fire acknowledgement lands after the preconditions
// regressed; the sequence then stays in Armed.
func (s *Sequencer) CommandAcked(kind protocol.Kind, now time.Time) error {
	switch kind {
	case protocol.KindArm:
		if s.state == StateIdle {
			s.shift(StateArmed, CauseArm, now)
		}
	case protocol.KindDisarm:
		if s.state == StateArmed {
			s.shift(StateIdle, CauseDisarm, now)
		}
	case protocol.KindFire:
		if s.state != StateArmed {
			return nil
		}
		if err := s.precheck(now); err != nil {
			s.logger.Warn("Fire acknowledged but preconditions regressed, holding", "error", err)
			s.shift(StateArmed, CauseHold, now)
			return err
		}
		s.remaining = s.cfg.CountdownTicks
		s.shift(StateCountdown, CauseFire, now)
	case protocol.KindIgnite:
		// Acknowledgement alone proves nothing burned; Flight needs the
		// ignition-detect sample.
	case protocol.KindReset:
		switch s.state {
		case StateArmed, StateAborted, StateFault, StateFlight:
			s.remaining = 0
			s.shift(StateIdle, CauseReset, now)
		}
	}

	return nil
}

// Tick advances the countdown and the ignition-confirm timer; the station
// calls it once per second. Outside Countdown and Ignition it is a no-op.
func (s *Sequencer) Tick(now time.Time) {
	switch s.state {
	case StateCountdown:
		s.remaining--
		if s.remaining <= 0 {
			s.remaining = 0
			s.ignitionAt = now
			s.shift(StateIgnition, CauseIgnition, now)
			return
		}
		s.shift(StateCountdown, CauseTick, now)
	case StateIgnition:
		if now.Sub(s.ignitionAt) >= s.cfg.IgnitionTimeout {
			s.shift(StateFault, CauseTimeout, now)
		}
	}
}

// Abort forces the sequence to Aborted. It wins over anything in progress
// and reports whether the state changed; terminal states stay put.
func (s *Sequencer) Abort(now time.Time) bool {
	if s.state.Terminal() {
		return false
	}
	s.remaining = 0
	s.shift(StateAborted, CauseAbort, now)

	return true
}

// LinkDown aborts an active sequence when the radio link is declared lost.
// Outside Countdown and Ignition the state is left alone.
func (s *Sequencer) LinkDown(now time.Time) bool {
	if s.state != StateCountdown && s.state != StateIgnition {
		return false
	}
	s.remaining = 0
	s.shift(StateAborted, CauseLinkDown, now)

	return true
}

// IgniteFailed aborts when the remote refuses or never acknowledges the
// ignition command.
func (s *Sequencer) IgniteFailed(now time.Time) bool {
	if s.state != StateIgnition {
		return false
	}
	s.shift(StateAborted, CauseIgniteFailed, now)

	return true
}

// IgnitionConfirmed moves to Flight on the ignition-detect sample. Stray
// detects outside the Ignition phase are ignored.
func (s *Sequencer) IgnitionConfirmed(now time.Time) bool {
	if s.state != StateIgnition {
		return false
	}
	s.shift(StateFlight, CauseConfirm, now)

	return true
}

func (s *Sequencer) precheck(now time.Time) error {
	if s.cfg.Preconditions == nil {
		return nil
	}
	if err := s.cfg.Preconditions.Check(now); err != nil {
		return fmt.Errorf("%w: %v", ErrPreconditions, err)
	}

	return nil
}

func (s *Sequencer) shift(to State, cause Cause, now time.Time) {
	tr := Transition{From: s.state, To: to, Remaining: s.remaining, Cause: cause, At: now}
	s.state = to
	s.logger.Info("Launch state changed", "from", tr.From.String(), "to", to.String(), "cause", string(cause))
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(tr)
	}
}
