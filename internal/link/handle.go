// Package link implements the reliability layer of the radio protocol: it
// assigns sequence numbers in send order, retransmits unacknowledged frames
// on a fixed budget, suppresses inbound duplicates and hands callers a
// per-send delivery handle.
package link

import (
	"sync/atomic"

	"groundlink/internal/protocol"
)

// Outcome is the terminal fate of a queued send.
type Outcome uint8

const (
	OutcomeAcked Outcome = iota
	OutcomeNacked
	OutcomeTimedOut
	OutcomeLinkLost
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeNacked:
		return "nacked"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeLinkLost:
		return "link lost"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once per handle. Reason is set for
// OutcomeNacked; Seq is the wire sequence number, or -1 when the send never
// reached the wire.
type Result struct {
	Outcome Outcome
	Reason  protocol.NackReason
	Seq     int
}

// Handle tracks one queued send. It is safe to share across goroutines; the
// session resolves it exactly once.
type Handle struct {
	kind      protocol.Kind
	done      chan Result
	cancelled atomic.Bool
}

func newHandle(kind protocol.Kind) *Handle {
	return &Handle{kind: kind, done: make(chan Result, 1)}
}

func (h *Handle) Kind() protocol.Kind {
	return h.kind
}

// Outcome yields the result once resolved; the channel is closed afterwards.
func (h *Handle) Outcome() <-chan Result {
	return h.done
}

// Cancel requests abandonment. It is honored on the session's next tick and
// cannot recall a frame already on the wire.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

func (h *Handle) resolve(res Result) {
	h.done <- res
	close(h.done)
}
