package link

import (
	"errors"
	"log/slog"
	"time"

	"groundlink/internal/protocol"
)

const (
	DefaultRetryTimeout = 2 * time.Second
	DefaultMaxRetries   = 3
	DefaultQueueLimit   = 8

	// dupWindow is half the sequence space; an inbound number that far or
	// further behind the newest accepted one is a retransmission.
	dupWindow = protocol.SeqModulus / 2
)

// ErrQueueFull is returned by Send when the waiting queue is at its limit.
var ErrQueueFull = errors.New("link: send queue full")

// Wire carries encoded messages to the remote node.
type Wire interface {
	WriteMessage(protocol.Message) error
}

// Config tunes the session. Zero values fall back to the defaults above.
type Config struct {
	RetryTimeout time.Duration
	MaxRetries   int
	QueueLimit   int

	// OnResolved, when set, observes every handle resolution. It runs on
	// the session owner's goroutine and may start a new send, but must not
	// call other session methods.
	OnResolved func(kind protocol.Kind, res Result)
}

func (c Config) withDefaults() Config {
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	return c
}

type pendingTransmission struct {
	handle  *Handle
	msg     protocol.Message
	sentAt  time.Time
	retries int
}

type waitingSend struct {
	handle   *Handle
	deadline time.Time
}

// Session enforces the half-duplex discipline: at most one command in flight,
// later sends queued until the pending slot frees. Methods are not safe for
// concurrent use; a single owner goroutine must drive them. Handles returned
// by Send are safe to share.
type Session struct {
	logger *slog.Logger
	wire   Wire
	cfg    Config
	local  protocol.Node
	remote protocol.Node

	lastSeq int
	pending *pendingTransmission
	waiting []waitingSend

	lastInSeq int
	haveInSeq bool
}

func NewSession(logger *slog.Logger, wire Wire, cfg Config, local, remote protocol.Node) *Session {
	return &Session{
		logger: logger.With("component", "link"),
		wire:   wire,
		cfg:    cfg.withDefaults(),
		local:  local,
		remote: remote,
	}
}

// Send queues kind for delivery to the remote node. The frame goes out
// immediately when the pending slot is free, otherwise it waits in FIFO
// order. A zero deadline means wait indefinitely for a slot.
func (s *Session) Send(kind protocol.Kind, now, deadline time.Time) (*Handle, error) {
	return s.send(kind, now, deadline, false)
}

// SendUrgent is Send with queue-jumping: the request goes to the front of
// the waiting queue. Aborts use it so they cannot starve behind earlier
// traffic. The frame already in flight still completes first.
func (s *Session) SendUrgent(kind protocol.Kind, now, deadline time.Time) (*Handle, error) {
	return s.send(kind, now, deadline, true)
}

func (s *Session) send(kind protocol.Kind, now, deadline time.Time, front bool) (*Handle, error) {
	h := newHandle(kind)
	if s.pending == nil {
		s.transmit(h, now)
		return h, nil
	}
	if len(s.waiting) >= s.cfg.QueueLimit {
		return nil, ErrQueueFull
	}
	w := waitingSend{handle: h, deadline: deadline}
	if front {
		s.waiting = append([]waitingSend{w}, s.waiting...)
	} else {
		s.waiting = append(s.waiting, w)
	}
	return h, nil
}

// transmit assigns the next sequence number, arms the pending slot and puts
// the frame on the wire. Write errors are not fatal here: the retry budget
// recovers transient faults and converts persistent ones into LinkLost.
func (s *Session) transmit(h *Handle, now time.Time) {
	s.lastSeq = (s.lastSeq + 1) % protocol.SeqModulus
	msg := protocol.Message{Kind: h.kind, Seq: s.lastSeq, From: s.local, To: s.remote}
	s.pending = &pendingTransmission{handle: h, msg: msg, sentAt: now}
	if err := s.wire.WriteMessage(msg); err != nil {
		s.logger.Warn("Write failed, retry pending", "kind", h.kind, "seq", msg.Seq, "error", err)
	}
}

// HandleMessage routes one decoded inbound message. It returns true when the
// message is fresh and should be delivered upstream; acknowledgements and
// duplicates are consumed here.
func (s *Session) HandleMessage(m protocol.Message, now time.Time) bool {
	switch m.Kind {
	case protocol.KindAck, protocol.KindNack:
		s.settlePending(m, now)
		return false
	case protocol.KindTelemetry:
		// Telemetry is fire-and-forget: it moves the duplicate window but
		// is never acknowledged.
		return s.acceptInbound(m, false)
	default:
		return s.acceptInbound(m, true)
	}
}

func (s *Session) settlePending(m protocol.Message, now time.Time) {
	p := s.pending
	if p == nil || m.Seq != p.msg.Seq {
		s.logger.Debug("Stale acknowledgement ignored", "kind", m.Kind, "seq", m.Seq)
		return
	}
	s.pending = nil
	if m.Kind == protocol.KindAck {
		s.finish(p.handle, Result{Outcome: OutcomeAcked, Seq: m.Seq})
	} else {
		s.finish(p.handle, Result{Outcome: OutcomeNacked, Reason: m.Reason, Seq: m.Seq})
	}
	// Resolve before promoting so a follow-up send started by the
	// resolution hook takes the freed slot ahead of the queue.
	s.promote(now)
}

func (s *Session) acceptInbound(m protocol.Message, ack bool) bool {
	fresh := s.freshInbound(m.Seq)
	if ack {
		reply := protocol.Message{Kind: protocol.KindAck, Seq: m.Seq, From: s.local, To: m.From}
		if err := s.wire.WriteMessage(reply); err != nil {
			s.logger.Warn("Acknowledge failed", "seq", m.Seq, "error", err)
		}
	}
	if !fresh {
		s.logger.Debug("Duplicate suppressed", "kind", m.Kind, "seq", m.Seq)
		return false
	}
	s.lastInSeq = m.Seq
	s.haveInSeq = true
	return true
}

func (s *Session) freshInbound(seq int) bool {
	if !s.haveInSeq {
		return true
	}
	diff := (seq - s.lastInSeq + protocol.SeqModulus) % protocol.SeqModulus
	return diff > 0 && diff < dupWindow
}

// Tick drives the session timers: cancelled and expired waiters are swept,
// the pending frame is retransmitted once its wait elapses, and exhausting
// the retry budget reports a lost link.
func (s *Session) Tick(now time.Time) (linkLost bool) {
	kept := s.waiting[:0]
	for _, w := range s.waiting {
		switch {
		case w.handle.cancelled.Load():
			s.finish(w.handle, Result{Outcome: OutcomeCancelled, Seq: -1})
		case !w.deadline.IsZero() && now.After(w.deadline):
			s.finish(w.handle, Result{Outcome: OutcomeTimedOut, Seq: -1})
		default:
			kept = append(kept, w)
		}
	}
	s.waiting = kept

	if p := s.pending; p != nil {
		switch {
		case p.handle.cancelled.Load():
			s.pending = nil
			s.finish(p.handle, Result{Outcome: OutcomeCancelled, Seq: p.msg.Seq})
		case now.Sub(p.sentAt) >= s.cfg.RetryTimeout:
			if p.retries >= s.cfg.MaxRetries {
				s.pending = nil
				s.logger.Warn("Retry budget exhausted", "kind", p.msg.Kind, "seq", p.msg.Seq, "retries", p.retries)
				s.finish(p.handle, Result{Outcome: OutcomeLinkLost, Seq: p.msg.Seq})
				linkLost = true
			} else {
				p.retries++
				p.sentAt = now
				s.logger.Debug("Retransmitting", "kind", p.msg.Kind, "seq", p.msg.Seq, "attempt", p.retries)
				if err := s.wire.WriteMessage(p.msg); err != nil {
					s.logger.Warn("Retransmit write failed", "seq", p.msg.Seq, "error", err)
				}
			}
		}
	}

	s.promote(now)
	return linkLost
}

func (s *Session) promote(now time.Time) {
	for s.pending == nil && len(s.waiting) > 0 {
		w := s.waiting[0]
		s.waiting = s.waiting[1:]
		switch {
		case w.handle.cancelled.Load():
			s.finish(w.handle, Result{Outcome: OutcomeCancelled, Seq: -1})
		case !w.deadline.IsZero() && now.After(w.deadline):
			s.finish(w.handle, Result{Outcome: OutcomeTimedOut, Seq: -1})
		default:
			s.transmit(w.handle, now)
		}
	}
}

// FailAll resolves every in-flight and queued send as LinkLost. The station
// calls it when the transport drops out from under the session.
func (s *Session) FailAll() (failed int) {
	if p := s.pending; p != nil {
		s.pending = nil
		s.finish(p.handle, Result{Outcome: OutcomeLinkLost, Seq: p.msg.Seq})
		failed++
	}
	for _, w := range s.waiting {
		s.finish(w.handle, Result{Outcome: OutcomeLinkLost, Seq: -1})
		failed++
	}
	s.waiting = nil
	return failed
}

// Idle reports whether nothing is in flight or waiting. The keepalive uses
// it to avoid stacking pings behind real traffic.
func (s *Session) Idle() bool {
	return s.pending == nil && len(s.waiting) == 0
}

func (s *Session) finish(h *Handle, res Result) {
	h.resolve(res)
	if s.cfg.OnResolved != nil {
		s.cfg.OnResolved(h.kind, res)
	}
}
