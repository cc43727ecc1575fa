// Package telemetry interprets raw downlink samples: channel assignments,
// linear calibration to engineering units, pyro continuity decoding and a
// store of the latest reading per channel that fire preconditions are
// checked against.
package telemetry

import (
	"fmt"
	"time"

	"groundlink/internal/protocol"
)

// Channel identifies a telemetry source on the remote node.
type Channel uint8

const (
	ChannelThrust         Channel = 0x01
	ChannelPressure       Channel = 0x02
	ChannelBattery        Channel = 0x03
	ChannelPyro           Channel = 0x04
	ChannelIgnitionDetect Channel = 0x05
)

func (c Channel) String() string {
	switch c {
	case ChannelThrust:
		return "thrust"
	case ChannelPressure:
		return "pressure"
	case ChannelBattery:
		return "battery"
	case ChannelPyro:
		return "pyro"
	case ChannelIgnitionDetect:
		return "ignition detect"
	default:
		return fmt.Sprintf("channel 0x%02X", uint8(c))
	}
}

// Linear maps a raw ADC count to engineering units as raw*Scale + Offset.
type Linear struct {
	Scale  float64
	Offset float64
}

func (l Linear) Apply(raw int32) float64 {
	return float64(raw)*l.Scale + l.Offset
}

// Bench calibrations for the test-stand sensor chain.
var (
	ThrustCalibration   = Linear{Scale: 4.451e-5, Offset: -0.049} // kilonewtons
	PressureCalibration = Linear{Scale: 4.213e-5, Offset: -0.927} // bar
	BatteryCalibration  = Linear{Scale: 0.00125}                  // volts
)

// PyroStatus is the continuity state of one igniter pair.
type PyroStatus uint8

const (
	PyroUnknown PyroStatus = iota
	PyroOpen
	PyroClosed
)

func (p PyroStatus) String() string {
	switch p {
	case PyroOpen:
		return "open"
	case PyroClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PyroPairs splits the pyro bitfield into the two igniter pairs: channels
// 1+2 in the low nibble, 3+4 in the high one. Each pair encodes 0 unknown,
// 2 open, 3 closed; the firmware never produces 1.
func PyroPairs(raw int32) (pyro12, pyro34 PyroStatus) {
	return pyroFromBits(uint8(raw) & 0x03), pyroFromBits(uint8(raw) >> 4 & 0x03)
}

func pyroFromBits(bits uint8) PyroStatus {
	switch bits {
	case 2:
		return PyroOpen
	case 3:
		return PyroClosed
	default:
		return PyroUnknown
	}
}

// Reading is one calibrated sample. Value and Unit are meaningful for the
// analog channels; pyro and ignition-detect stay raw.
type Reading struct {
	Node       protocol.Node
	Channel    Channel
	Raw        int32
	Value      float64
	Unit       string
	Uptime     time.Duration
	ReceivedAt time.Time
}

// Calibrate interprets a raw sample. Unassigned channels pass through with
// the raw count as value and no unit.
func Calibrate(node protocol.Node, sample protocol.Sample, now time.Time) Reading {
	r := Reading{
		Node:       node,
		Channel:    Channel(sample.Channel),
		Raw:        sample.Raw,
		Uptime:     sample.Uptime,
		ReceivedAt: now,
	}
	switch r.Channel {
	case ChannelThrust:
		r.Value, r.Unit = ThrustCalibration.Apply(sample.Raw), "kN"
	case ChannelPressure:
		r.Value, r.Unit = PressureCalibration.Apply(sample.Raw), "bar"
	case ChannelBattery:
		r.Value, r.Unit = BatteryCalibration.Apply(sample.Raw), "V"
	default:
		r.Value = float64(sample.Raw)
	}

	return r
}

func (r Reading) String() string {
	switch r.Channel {
	case ChannelPyro:
		pyro12, pyro34 := PyroPairs(r.Raw)
		return fmt.Sprintf("pyro 1+2=%s 3+4=%s", pyro12, pyro34)
	case ChannelIgnitionDetect:
		if r.Raw != 0 {
			return "ignition detect active"
		}
		return "ignition detect clear"
	case ChannelThrust, ChannelPressure:
		return fmt.Sprintf("%s %.3f %s", r.Channel, r.Value, r.Unit)
	case ChannelBattery:
		return fmt.Sprintf("%s %.2f %s", r.Channel, r.Value, r.Unit)
	default:
		return fmt.Sprintf("%s raw %d", r.Channel, r.Raw)
	}
}
