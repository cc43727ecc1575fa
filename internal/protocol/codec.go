package protocol

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedPayload   = errors.New("malformed payload")
)

const maxUptimeSeconds = 99999999 // eight decimal digits on the wire

var verbTokens = map[Kind]string{
	KindArm:    "ARM",
	KindDisarm: "DISARM",
	KindFire:   "FIRE",
	KindAbort:  "ABORT",
	KindPing:   "PING",
	KindReset:  "RESET",
	KindIgnite: "IGNITION",
}

var reasonTokens = map[NackReason]string{
	ReasonDenied:       "DENIED",
	ReasonBusy:         "BUSY",
	ReasonPrecondition: "PRECOND",
	ReasonUnknown:      "UNKNOWN",
}

// Encode renders m as a sentence body. The mapping is deterministic and
// injective; Decode inverts it exactly.
func Encode(m Message) ([]byte, error) {
	if m.Seq < 0 || m.Seq >= SeqModulus {
		return nil, fmt.Errorf("%w: sequence %d out of range", ErrMalformedPayload, m.Seq)
	}
	src, err := nodeToken(m.From)
	if err != nil {
		return nil, err
	}
	dst, err := nodeToken(m.To)
	if err != nil {
		return nil, err
	}

	switch {
	case m.Kind.IsCommand():
		return []byte(fmt.Sprintf("%sCMD,%03d,%s,%s", src, m.Seq, dst, verbTokens[m.Kind])), nil
	case m.Kind == KindAck:
		return []byte(fmt.Sprintf("%sACK,%03d,%s", src, m.Seq, dst)), nil
	case m.Kind == KindNack:
		if m.Reason == ReasonUnspecified {
			return []byte(fmt.Sprintf("%sNAK,%03d,%s", src, m.Seq, dst)), nil
		}
		token, ok := reasonTokens[m.Reason]
		if !ok {
			return nil, fmt.Errorf("%w: nack reason %d", ErrMalformedPayload, m.Reason)
		}

		return []byte(fmt.Sprintf("%sNAK,%03d,%s,%s", src, m.Seq, dst, token)), nil
	case m.Kind == KindTelemetry:
		ms := m.Sample.Uptime.Milliseconds()
		if m.Sample.Uptime < 0 || m.Sample.Uptime != time.Duration(ms)*time.Millisecond {
			return nil, fmt.Errorf("%w: uptime %v not millisecond-aligned", ErrMalformedPayload, m.Sample.Uptime)
		}
		if ms/1000 > maxUptimeSeconds {
			return nil, fmt.Errorf("%w: uptime %v out of range", ErrMalformedPayload, m.Sample.Uptime)
		}

		return []byte(fmt.Sprintf("%sTLM,%03d,%s,%d.%03d,%02X,%08X",
			src, m.Seq, dst, ms/1000, ms%1000, m.Sample.Channel, uint32(m.Sample.Raw))), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownMessageType, m.Kind)
	}
}

// Decode parses a verified sentence body back into a Message. Bodies that do
// not match any known variant fail with ErrUnknownMessageType; bodies that
// match a variant but carry broken fields fail with ErrMalformedPayload.
func Decode(body []byte) (Message, error) {
	// Fixed prefix: SRC(3) TAG(3) ',' ID3(3) ',' DST(3).
	if len(body) < 14 {
		return Message{}, fmt.Errorf("%w: body too short", ErrMalformedPayload)
	}
	src, err := parseNode(body[0:3])
	if err != nil {
		return Message{}, err
	}
	tag := string(body[3:6])
	if body[6] != ',' || body[10] != ',' {
		return Message{}, fmt.Errorf("%w: missing field separators", ErrMalformedPayload)
	}
	seq, err := parseSeq(body[7:10])
	if err != nil {
		return Message{}, err
	}
	dst, err := parseNode(body[11:14])
	if err != nil {
		return Message{}, err
	}

	m := Message{Seq: seq, From: src, To: dst}
	rest := body[14:]
	switch tag {
	case "CMD":
		kind, err := parseVerb(rest)
		if err != nil {
			return Message{}, err
		}
		m.Kind = kind
	case "ACK":
		if len(rest) != 0 {
			return Message{}, fmt.Errorf("%w: trailing bytes after ack", ErrMalformedPayload)
		}
		m.Kind = KindAck
	case "NAK":
		reason, err := parseReason(rest)
		if err != nil {
			return Message{}, err
		}
		m.Kind = KindNack
		m.Reason = reason
	case "TLM":
		sample, err := parseSample(rest)
		if err != nil {
			return Message{}, err
		}
		m.Kind = KindTelemetry
		m.Sample = sample
	default:
		return Message{}, fmt.Errorf("%w: tag %q", ErrUnknownMessageType, tag)
	}

	return m, nil
}

func nodeToken(n Node) (string, error) {
	switch n.Kind {
	case NodeLaunchControl:
		return "LNC", nil
	case NodeRedQueen, NodeFarduino:
		if n.ID < 'A' || n.ID > 'Z' {
			return "", fmt.Errorf("%w: node id %q", ErrMalformedPayload, n.ID)
		}

		return n.String(), nil
	default:
		return "", fmt.Errorf("%w: node kind %d", ErrMalformedPayload, n.Kind)
	}
}

// ParseNode resolves a three-letter station token ("LNC", "RQA", "FDB") to
// its address. Configuration and console input go through it.
func ParseNode(token string) (Node, error) {
	return parseNode([]byte(token))
}

func parseNode(token []byte) (Node, error) {
	if string(token) == "LNC" {
		return LaunchControl, nil
	}
	if len(token) == 3 && token[2] >= 'A' && token[2] <= 'Z' {
		switch string(token[0:2]) {
		case "RQ":
			return RedQueen(token[2]), nil
		case "FD":
			return Farduino(token[2]), nil
		}
	}

	return Node{}, fmt.Errorf("%w: node %q", ErrMalformedPayload, token)
}

func parseSeq(digits []byte) (int, error) {
	seq := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: sequence %q", ErrMalformedPayload, digits)
		}
		seq = seq*10 + int(c-'0')
	}

	return seq, nil
}

func parseVerb(rest []byte) (Kind, error) {
	if len(rest) == 0 || rest[0] != ',' {
		return 0, fmt.Errorf("%w: missing command verb", ErrMalformedPayload)
	}
	verb := string(rest[1:])
	for kind, token := range verbTokens {
		if verb == token {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("%w: verb %q", ErrUnknownMessageType, verb)
}

func parseReason(rest []byte) (NackReason, error) {
	if len(rest) == 0 {
		return ReasonUnspecified, nil
	}
	if rest[0] != ',' {
		return 0, fmt.Errorf("%w: trailing bytes after nack", ErrMalformedPayload)
	}
	token := string(rest[1:])
	for reason, t := range reasonTokens {
		if token == t {
			return reason, nil
		}
	}

	return 0, fmt.Errorf("%w: nack reason %q", ErrMalformedPayload, token)
}

func parseSample(rest []byte) (Sample, error) {
	// ",SSSSSSSS.mmm,CC,RRRRRRRR" with 1..8 uptime second digits.
	if len(rest) == 0 || rest[0] != ',' {
		return Sample{}, fmt.Errorf("%w: missing telemetry fields", ErrMalformedPayload)
	}
	rest = rest[1:]

	dot := -1
	for i, c := range rest {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 1 || dot > 8 {
		return Sample{}, fmt.Errorf("%w: telemetry uptime", ErrMalformedPayload)
	}
	seconds := int64(0)
	for _, c := range rest[:dot] {
		if c < '0' || c > '9' {
			return Sample{}, fmt.Errorf("%w: telemetry uptime", ErrMalformedPayload)
		}
		seconds = seconds*10 + int64(c-'0')
	}
	rest = rest[dot+1:]
	if len(rest) != 3+1+2+1+8 {
		return Sample{}, fmt.Errorf("%w: telemetry field layout", ErrMalformedPayload)
	}
	millis := int64(0)
	for _, c := range rest[:3] {
		if c < '0' || c > '9' {
			return Sample{}, fmt.Errorf("%w: telemetry uptime fraction", ErrMalformedPayload)
		}
		millis = millis*10 + int64(c-'0')
	}
	if rest[3] != ',' || rest[6] != ',' {
		return Sample{}, fmt.Errorf("%w: telemetry separators", ErrMalformedPayload)
	}
	channel, err := parseHex(rest[4:6])
	if err != nil {
		return Sample{}, err
	}
	raw, err := parseHex(rest[7:])
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Uptime:  time.Duration(seconds)*time.Second + time.Duration(millis)*time.Millisecond,
		Channel: uint8(channel),
		Raw:     int32(uint32(raw)),
	}, nil
}

func parseHex(digits []byte) (uint64, error) {
	var v uint64
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint64(c-'A'+10)
		default:
			return 0, fmt.Errorf("%w: hex field %q", ErrMalformedPayload, digits)
		}
	}

	return v, nil
}
