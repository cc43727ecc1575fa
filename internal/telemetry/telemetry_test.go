package telemetry

import (
	"math"
	"testing"
	"time"

	"groundlink/internal/protocol"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func sample(channel Channel, raw int32) protocol.Sample {
	return protocol.Sample{Uptime: 42 * time.Second, Channel: uint8(channel), Raw: raw}
}

func TestCalibrateAnalogChannels(t *testing.T) {
	cases := []struct {
		name    string
		channel Channel
		raw     int32
		value   float64
		unit    string
	}{
		{"thrust", ChannelThrust, 100000, 4.402, "kN"},
		{"thrust zero load", ChannelThrust, 0, -0.049, "kN"},
		{"pressure", ChannelPressure, 50000, 1.1795, "bar"},
		{"battery", ChannelBattery, 6560, 8.2, "V"},
	}

	for _, tc := range cases {
		r := Calibrate(protocol.RedQueen('A'), sample(tc.channel, tc.raw), t0)
		if r.Unit != tc.unit {
			t.Fatalf("%s: unit %q, want %q", tc.name, r.Unit, tc.unit)
		}
		if math.Abs(r.Value-tc.value) > 1e-9 {
			t.Fatalf("%s: value %v, want %v", tc.name, r.Value, tc.value)
		}
	}
}

func TestCalibratePassesRawChannelsThrough(t *testing.T) {
	r := Calibrate(protocol.RedQueen('A'), sample(ChannelPyro, 0x33), t0)
	if r.Unit != "" || r.Value != float64(0x33) {
		t.Fatalf("pyro reading %+v", r)
	}
	if r.Uptime != 42*time.Second || !r.ReceivedAt.Equal(t0) {
		t.Fatalf("reading metadata %+v", r)
	}
}

func TestPyroPairs(t *testing.T) {
	cases := []struct {
		raw            int32
		pyro12, pyro34 PyroStatus
	}{
		{0x33, PyroClosed, PyroClosed},
		{0x23, PyroClosed, PyroOpen},
		{0x32, PyroOpen, PyroClosed},
		{0x00, PyroUnknown, PyroUnknown},
		{0x03, PyroClosed, PyroUnknown},
	}

	for _, tc := range cases {
		pyro12, pyro34 := PyroPairs(tc.raw)
		if pyro12 != tc.pyro12 || pyro34 != tc.pyro34 {
			t.Fatalf("raw 0x%02X: got %s/%s, want %s/%s", tc.raw, pyro12, pyro34, tc.pyro12, tc.pyro34)
		}
	}
}

func TestReadingString(t *testing.T) {
	cases := []struct {
		channel Channel
		raw     int32
		want    string
	}{
		{ChannelBattery, 6560, "battery 8.20 V"},
		{ChannelPyro, 0x23, "pyro 1+2=closed 3+4=open"},
		{ChannelIgnitionDetect, 1, "ignition detect active"},
		{ChannelIgnitionDetect, 0, "ignition detect clear"},
		{Channel(0x7F), 99, "channel 0x7F raw 99"},
	}

	for _, tc := range cases {
		r := Calibrate(protocol.RedQueen('A'), sample(tc.channel, tc.raw), t0)
		if got := r.String(); got != tc.want {
			t.Fatalf("channel %v: %q, want %q", tc.channel, got, tc.want)
		}
	}
}
