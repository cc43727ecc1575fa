// Package station runs the ground-station core: one goroutine owns the
// serial transport, the sentence parser, the link session and the launch
// sequencer, and everything observable is published on the bus.
package station

import (
	"time"

	"groundlink/internal/link"
	"groundlink/internal/protocol"
)

// Bus topics. Payload types are noted per topic; launch.state carries
// sequencer.Transition and telemetry.sample carries telemetry.Reading.
const (
	TopicConnStatus  = "conn.status"
	TopicLaunchState = "launch.state"
	TopicTelemetry   = "telemetry.sample"
	TopicLinkEvent   = "link.event"
	TopicRawFrameIn  = "raw.frame.in"
	TopicRawFrameOut = "raw.frame.out"
)

// ConnectionState describes the transport lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a bus event snapshot of the current transport status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Timestamp     time.Time
}

// LinkEventType classifies reliability-layer events.
type LinkEventType string

const (
	// LinkEventResolved: an outbound send reached a terminal outcome.
	LinkEventResolved LinkEventType = "resolved"
	// LinkEventUp: first frame heard from the remote since start or loss.
	LinkEventUp LinkEventType = "up"
	// LinkEventLost: the retry budget ran out or the transport dropped.
	LinkEventLost LinkEventType = "lost"
	// LinkEventRemote: the remote initiated a command, e.g. a stand-side
	// abort.
	LinkEventRemote LinkEventType = "remote"
)

// LinkEvent reports link-session activity. Kind, Outcome, Reason and Seq are
// meaningful for resolved and remote events.
type LinkEvent struct {
	Type    LinkEventType
	Kind    protocol.Kind
	Outcome link.Outcome
	Reason  protocol.NackReason
	Seq     int
	At      time.Time
}

// RawFrame carries one wire sentence for diagnostics and the audit log,
// trailing CR LF stripped.
type RawFrame struct {
	Sentence string
	Len      int
	At       time.Time
}
