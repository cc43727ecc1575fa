// Package standsim is a software test stand. It answers launch-control
// commands with the pad firmware's interlock rules and produces periodic
// telemetry. The station's dry-run mode wires it up over an in-memory pipe;
// cmd/standsim serves it over a real serial port for bench work.
package standsim

import (
	"context"
	"log/slog"
	"time"

	"groundlink/internal/nmea"
	"groundlink/internal/protocol"
	"groundlink/internal/telemetry"
	"groundlink/internal/transport"
)

// Config tunes the simulated stand. Zero values fall back to a healthy pad:
// full battery, both igniter pairs closed, ignition detected immediately
// after the pyro command.
type Config struct {
	Node   protocol.Node
	Ground protocol.Node

	TelemetryInterval time.Duration
	BatteryRaw        int32
	PyroRaw           int32

	// IgnitionDelay is how long after the pyro command the ignition-detect
	// channel starts reading nonzero. Large values exercise the ground
	// side's confirm timeout.
	IgnitionDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Node == (protocol.Node{}) {
		c.Node = protocol.RedQueen('A')
	}
	if c.Ground == (protocol.Node{}) {
		c.Ground = protocol.LaunchControl
	}
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = 500 * time.Millisecond
	}
	if c.BatteryRaw == 0 {
		c.BatteryRaw = 6560 // 8.2 V
	}
	if c.PyroRaw == 0 {
		c.PyroRaw = 0x33 // both pairs closed
	}
	return c
}

// Simulator holds the stand state. Run owns it; the only concurrent entry
// point is EStop.
type Simulator struct {
	logger    *slog.Logger
	transport transport.Transport
	cfg       Config
	parser    *nmea.Parser

	armed   bool
	ignited time.Time

	outSeq int

	lastSeq   int
	haveSeen  bool
	lastReply protocol.Message
	haveReply bool

	started   time.Time
	cursor    int
	estopping chan struct{}
}

func New(logger *slog.Logger, tr transport.Transport, cfg Config) *Simulator {
	return &Simulator{
		logger:    logger.With("component", "standsim"),
		transport: tr,
		cfg:       cfg.withDefaults(),
		parser:    nmea.NewParser(),
		estopping: make(chan struct{}, 1),
	}
}

// EStop simulates the stand's local emergency stop: the stand disarms itself
// and tells the ground. Safe to call from any goroutine.
func (s *Simulator) EStop() {
	select {
	case s.estopping <- struct{}{}:
	default:
	}
}

// Run serves the stand until ctx is cancelled or the transport drops. The
// transport must already be connected.
func (s *Simulator) Run(ctx context.Context) error {
	buf := make([]byte, 512)
	s.started = time.Now()
	nextTLM := s.started.Add(s.cfg.TelemetryInterval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.transport.Read(buf)
		if err != nil {
			return err
		}
		now := time.Now()
		if n > 0 {
			s.parser.Feed(buf[:n], func(sentence []byte) {
				s.handleSentence(sentence, now)
			})
		}

		select {
		case <-s.estopping:
			s.localAbort()
		default:
		}

		if !now.Before(nextTLM) {
			s.emitTelemetry(now)
			nextTLM = now.Add(s.cfg.TelemetryInterval)
		}
	}
}

func (s *Simulator) handleSentence(sentence []byte, now time.Time) {
	body, err := nmea.Verify(sentence)
	if err != nil {
		s.logger.Debug("Bad sentence", "error", err)
		return
	}
	m, err := protocol.Decode(body)
	if err != nil {
		s.logger.Debug("Undecodable sentence", "error", err)
		return
	}
	if m.To != s.cfg.Node || !m.Kind.IsCommand() {
		return
	}
	s.handleCommand(m, now)
}

// handleCommand executes a ground command at most once per sequence number.
// A retransmission of the last command gets the stored reply back without
// re-execution; anything older is dropped. Reset always executes: it is the
// ground's way of resynchronizing the sequence window after a restart.
func (s *Simulator) handleCommand(m protocol.Message, now time.Time) {
	if m.Kind != protocol.KindReset && !s.fresh(m.Seq) {
		if s.haveReply && m.Seq == s.lastReply.Seq {
			s.logger.Debug("Repeating reply", "kind", m.Kind.String(), "seq", m.Seq)
			s.write(s.lastReply)
		}
		return
	}

	reason, refused := s.execute(m.Kind, now)
	reply := protocol.Message{Kind: protocol.KindAck, Seq: m.Seq, From: s.cfg.Node, To: m.From}
	if refused {
		reply.Kind = protocol.KindNack
		reply.Reason = reason
	}

	s.lastSeq = m.Seq
	s.haveSeen = true
	s.lastReply = reply
	s.haveReply = true

	s.logger.Info("Command", "kind", m.Kind.String(), "seq", m.Seq, "reply", reply.Kind.String())
	s.write(reply)
}

func (s *Simulator) execute(kind protocol.Kind, now time.Time) (protocol.NackReason, bool) {
	switch kind {
	case protocol.KindPing:
	case protocol.KindArm:
		s.armed = true
	case protocol.KindDisarm:
		s.armed = false
	case protocol.KindAbort:
		s.armed = false
		s.ignited = time.Time{}
	case protocol.KindReset:
		s.armed = false
		s.ignited = time.Time{}
		s.haveSeen = false
		s.haveReply = false
	case protocol.KindFire:
		if !s.armed {
			return protocol.ReasonDenied, true
		}
	case protocol.KindIgnite:
		if !s.armed {
			return protocol.ReasonDenied, true
		}
		if s.ignited.IsZero() {
			s.ignited = now
		}
	default:
		return protocol.ReasonUnknown, true
	}

	return protocol.ReasonUnspecified, false
}

func (s *Simulator) localAbort() {
	s.armed = false
	s.ignited = time.Time{}
	s.outSeq = (s.outSeq + 1) % protocol.SeqModulus
	s.logger.Warn("E-stop pressed, aborting", "seq", s.outSeq)
	s.write(protocol.Message{
		Kind: protocol.KindAbort, Seq: s.outSeq,
		From: s.cfg.Node, To: s.cfg.Ground,
	})
}

// emitTelemetry sends one channel per period, cycling the way the firmware
// muxes its ADC. Thrust, pressure and ignition detect join the rotation only
// once the pyro command has fired.
func (s *Simulator) emitTelemetry(now time.Time) {
	channels := []telemetry.Channel{telemetry.ChannelBattery, telemetry.ChannelPyro}
	if !s.ignited.IsZero() {
		channels = append(channels,
			telemetry.ChannelThrust,
			telemetry.ChannelPressure,
			telemetry.ChannelIgnitionDetect,
		)
	}

	ch := channels[s.cursor%len(channels)]
	s.cursor++

	var raw int32
	switch ch {
	case telemetry.ChannelBattery:
		raw = s.cfg.BatteryRaw
	case telemetry.ChannelPyro:
		raw = s.cfg.PyroRaw
	case telemetry.ChannelThrust:
		raw = s.thrustRaw(now)
	case telemetry.ChannelPressure:
		raw = s.pressureRaw(now)
	case telemetry.ChannelIgnitionDetect:
		if now.Sub(s.ignited) >= s.cfg.IgnitionDelay {
			raw = 1
		}
	}

	s.outSeq = (s.outSeq + 1) % protocol.SeqModulus
	s.write(protocol.Message{
		Kind: protocol.KindTelemetry, Seq: s.outSeq,
		From: s.cfg.Node, To: s.cfg.Ground,
		Sample: protocol.Sample{
			// The wire carries millisecond resolution.
			Uptime:  now.Sub(s.started).Truncate(time.Millisecond),
			Channel: uint8(ch),
			Raw:     raw,
		},
	})
}

// thrustRaw ramps over the first two seconds of the burn, peaking around
// 2.2 kN. 1101 counts is the load cell's zero.
func (s *Simulator) thrustRaw(now time.Time) int32 {
	raw := int32(1101)
	if ms := now.Sub(s.ignited).Milliseconds(); ms > 0 && ms < 2000 {
		raw += int32(ms * 25)
	}
	return raw
}

func (s *Simulator) pressureRaw(now time.Time) int32 {
	raw := int32(22003) // ambient
	if ms := now.Sub(s.ignited).Milliseconds(); ms > 0 && ms < 2000 {
		raw += int32(ms * 40)
	}
	return raw
}

func (s *Simulator) fresh(seq int) bool {
	if !s.haveSeen {
		return true
	}
	diff := (seq - s.lastSeq + protocol.SeqModulus) % protocol.SeqModulus
	return diff > 0 && diff < protocol.SeqModulus/2
}

func (s *Simulator) write(m protocol.Message) {
	body, err := protocol.Encode(m)
	if err != nil {
		s.logger.Error("Encode failed", "kind", m.Kind.String(), "error", err)
		return
	}
	sentence, err := nmea.Format(body)
	if err != nil {
		s.logger.Error("Framing failed", "error", err)
		return
	}
	if _, err := s.transport.Write(sentence); err != nil {
		s.logger.Debug("Write failed", "error", err)
	}
}
