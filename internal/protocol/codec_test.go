package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeGoldenBodies(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "arm command",
			msg:  Message{Kind: KindArm, Seq: 42, From: LaunchControl, To: RedQueen('A')},
			want: "LNCCMD,042,RQA,ARM",
		},
		{
			name: "fire command",
			msg:  Message{Kind: KindFire, Seq: 7, From: LaunchControl, To: Farduino('B')},
			want: "LNCCMD,007,FDB,FIRE",
		},
		{
			name: "ignition command",
			msg:  Message{Kind: KindIgnite, Seq: 8, From: LaunchControl, To: RedQueen('A')},
			want: "LNCCMD,008,RQA,IGNITION",
		},
		{
			name: "ack",
			msg:  Message{Kind: KindAck, Seq: 42, From: RedQueen('A'), To: LaunchControl},
			want: "RQAACK,042,LNC",
		},
		{
			name: "nack with reason",
			msg:  Message{Kind: KindNack, Seq: 42, From: RedQueen('A'), To: LaunchControl, Reason: ReasonDenied},
			want: "RQANAK,042,LNC,DENIED",
		},
		{
			name: "nack unspecified",
			msg:  Message{Kind: KindNack, Seq: 1, From: RedQueen('A'), To: LaunchControl},
			want: "RQANAK,001,LNC",
		},
		{
			name: "telemetry",
			msg: Message{
				Kind: KindTelemetry, Seq: 999, From: RedQueen('A'), To: LaunchControl,
				Sample: Sample{Uptime: 12*time.Second + 345*time.Millisecond, Channel: 0x03, Raw: -1},
			},
			want: "RQATLM,999,LNC,12.345,03,FFFFFFFF",
		},
	}

	for _, tc := range cases {
		got, err := Encode(tc.msg)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: body mismatch: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []Message{
		{Kind: KindArm, Seq: 0, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindDisarm, Seq: 1, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindFire, Seq: 999, From: LaunchControl, To: RedQueen('Z')},
		{Kind: KindAbort, Seq: 500, From: LaunchControl, To: Farduino('A')},
		{Kind: KindPing, Seq: 123, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindReset, Seq: 321, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindIgnite, Seq: 322, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindAck, Seq: 77, From: RedQueen('A'), To: LaunchControl},
		{Kind: KindNack, Seq: 78, From: Farduino('C'), To: LaunchControl, Reason: ReasonBusy},
		{Kind: KindNack, Seq: 79, From: RedQueen('A'), To: LaunchControl},
		{Kind: KindNack, Seq: 80, From: RedQueen('A'), To: LaunchControl, Reason: ReasonPrecondition},
		{
			Kind: KindTelemetry, Seq: 81, From: RedQueen('A'), To: LaunchControl,
			Sample: Sample{Uptime: 0, Channel: 0x01, Raw: 2147483647},
		},
		{
			Kind: KindTelemetry, Seq: 82, From: Farduino('B'), To: LaunchControl,
			Sample: Sample{Uptime: 99999999 * time.Second, Channel: 0xFF, Raw: -2147483648},
		},
	}

	for _, want := range msgs {
		body, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want.Kind, err)
		}
		got, err := Decode(body)
		if err != nil {
			t.Fatalf("decode %q: %v", body, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch for %q:\n got %+v\nwant %+v", body, got, want)
		}
	}
}

func TestDecodeUnknownVariants(t *testing.T) {
	for _, body := range []string{
		"LNCCMD,042,RQA,LAUNCH",
		"LNCXXX,042,RQA",
	} {
		_, err := Decode([]byte(body))
		if !errors.Is(err, ErrUnknownMessageType) {
			t.Fatalf("decode %q: expected ErrUnknownMessageType, got %v", body, err)
		}
	}
}

func TestDecodeMalformedBodies(t *testing.T) {
	for _, body := range []string{
		"",
		"LNCACK,042",
		"XXXACK,042,LNC",
		"RQAACK,0x2,LNC",
		"RQAACK,042,LNC,EXTRA",
		"RQ1ACK,042,LNC",
		"RQANAK,042,LNC,NOPE",
		"RQATLM,042,LNC",
		"RQATLM,042,LNC,12.34,03,FFFFFFFF",
		"RQATLM,042,LNC,12.345,3,FFFFFFFF",
		"RQATLM,042,LNC,12.345,03,FFFFFFF",
		"RQATLM,042,LNC,12.345,03,fffffff1",
	} {
		_, err := Decode([]byte(body))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("decode %q: expected ErrMalformedPayload, got %v", body, err)
		}
	}
}

func TestParseNode(t *testing.T) {
	for token, want := range map[string]Node{
		"LNC": LaunchControl,
		"RQA": RedQueen('A'),
		"FDZ": Farduino('Z'),
	} {
		got, err := ParseNode(token)
		if err != nil {
			t.Fatalf("parse %q: %v", token, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %+v want %+v", token, got, want)
		}
	}

	for _, token := range []string{"", "RQ", "RQa", "XXA", "LNCX"} {
		if _, err := ParseNode(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestEncodeRejectsInvalidMessages(t *testing.T) {
	bad := []Message{
		{Kind: KindArm, Seq: -1, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindArm, Seq: SeqModulus, From: LaunchControl, To: RedQueen('A')},
		{Kind: KindArm, Seq: 1, From: LaunchControl, To: RedQueen('a')},
		{Kind: Kind(200), Seq: 1, From: LaunchControl, To: RedQueen('A')},
		{
			Kind: KindTelemetry, Seq: 1, From: RedQueen('A'), To: LaunchControl,
			Sample: Sample{Uptime: 500 * time.Microsecond},
		},
		{
			Kind: KindTelemetry, Seq: 1, From: RedQueen('A'), To: LaunchControl,
			Sample: Sample{Uptime: 100000000 * time.Second},
		},
	}
	for _, msg := range bad {
		if _, err := Encode(msg); err == nil {
			t.Fatalf("expected encode error for %+v", msg)
		}
	}
}
