// Package protocol defines the typed messages exchanged over the radio link
// and their mapping to sentence bodies.
package protocol

import "time"

// SeqModulus is the wrap point for link sequence numbers, fixed by the
// three-digit id field on the wire.
const SeqModulus = 1000

// NodeKind identifies the class of station an address refers to.
type NodeKind uint8

const (
	NodeLaunchControl NodeKind = iota
	NodeRedQueen
	NodeFarduino
)

// Node is a link-level station address: the ground station itself, a
// RedQueen avionics board or a Farduino test-stand controller.
type Node struct {
	Kind NodeKind
	// ID selects the board instance, 'A'..'Z'. Unused for LaunchControl.
	ID byte
}

var LaunchControl = Node{Kind: NodeLaunchControl}

func RedQueen(id byte) Node { return Node{Kind: NodeRedQueen, ID: id} }

func Farduino(id byte) Node { return Node{Kind: NodeFarduino, ID: id} }

func (n Node) String() string {
	switch n.Kind {
	case NodeLaunchControl:
		return "LNC"
	case NodeRedQueen:
		return "RQ" + string(rune(n.ID))
	case NodeFarduino:
		return "FD" + string(rune(n.ID))
	default:
		return "???"
	}
}

// Kind tags the message variant carried in a sentence body.
type Kind uint8

const (
	KindArm Kind = iota
	KindDisarm
	KindFire
	KindAbort
	KindPing
	KindReset
	KindIgnite
	KindAck
	KindNack
	KindTelemetry
)

func (k Kind) String() string {
	switch k {
	case KindArm:
		return "arm"
	case KindDisarm:
		return "disarm"
	case KindFire:
		return "fire"
	case KindAbort:
		return "abort"
	case KindPing:
		return "ping"
	case KindReset:
		return "reset"
	case KindIgnite:
		return "ignite"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// IsCommand reports whether the kind rides a CMD sentence and expects an
// acknowledgement carrying the same sequence number.
func (k Kind) IsCommand() bool {
	switch k {
	case KindArm, KindDisarm, KindFire, KindAbort, KindPing, KindReset, KindIgnite:
		return true
	default:
		return false
	}
}

// NackReason explains a rejected command.
type NackReason uint8

const (
	ReasonUnspecified NackReason = iota
	// ReasonDenied: the command is illegal in the remote's current state.
	ReasonDenied
	// ReasonBusy: the remote is still processing an earlier command.
	ReasonBusy
	// ReasonPrecondition: a safety precondition is not satisfied.
	ReasonPrecondition
	// ReasonUnknown: the remote did not recognize the command.
	ReasonUnknown
)

func (r NackReason) String() string {
	if token, ok := reasonTokens[r]; ok {
		return token
	}

	return "UNSPEC"
}

// Sample is one telemetry reading: the remote's uptime when it was taken,
// the channel it came from and the raw ADC value. Calibration to engineering
// units happens upstream.
type Sample struct {
	// Uptime has millisecond resolution on the wire.
	Uptime  time.Duration
	Channel uint8
	Raw     int32
}

// Message is the typed unit exchanged over the link. Seq is assigned by the
// sending link session and lives in [0, SeqModulus). Reason is meaningful
// for KindNack only, Sample for KindTelemetry only.
type Message struct {
	Kind   Kind
	Seq    int
	From   Node
	To     Node
	Reason NackReason
	Sample Sample
}
