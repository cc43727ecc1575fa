// Package e32 programs EBYTE E32 LoRa modules through their serial
// parameter interface. The module is put into configuration mode via the
// M0/M1 pins, wired to the adapter's DTR and RTS lines, and parameters are
// written to flash and read back until they stick.
package e32

import (
	"errors"
	"fmt"
)

// Parity selects the UART frame parity, SPED bits 7..6.
type Parity uint8

const (
	ParityNone Parity = 0b00
	ParityOdd  Parity = 0b01
	ParityEven Parity = 0b10
)

// UARTRate is the serial-side baud code, SPED bits 5..3.
type UARTRate uint8

const (
	UART1200 UARTRate = iota
	UART2400
	UART4800
	UART9600
	UART19200
	UART38400
	UART57600
	UART115200
)

// AirRate is the on-air rate code, SPED bits 2..0.
type AirRate uint8

const (
	Air300 AirRate = iota
	Air1200
	Air2400
	Air4800
	Air9600
	Air19200
)

// Power is the transmit power code for the 1W variant, OPTION bits 1..0.
type Power uint8

const (
	Power30dBm Power = iota
	Power27dBm
	Power24dBm
	Power21dBm
)

// Wakeup is the wireless wake-up interval code, OPTION bits 5..3.
type Wakeup uint8

const (
	Wakeup250ms Wakeup = iota
	Wakeup500ms
	Wakeup750ms
	Wakeup1000ms
	Wakeup1250ms
	Wakeup1500ms
	Wakeup1750ms
	Wakeup2000ms
)

// maxChannel bounds the RF channel field; the band is 410 MHz + channel.
const maxChannel = 0x1F

// Parameters is the module's persistent radio configuration.
type Parameters struct {
	Address   uint16
	Channel   uint8
	Parity    Parity
	UARTRate  UARTRate
	AirRate   AirRate
	FixedMode bool // false selects transparent transmission
	PushPull  bool
	Wakeup    Wakeup
	FEC       bool
	Power     Power
}

// Default is the link plan both ends of the radio pair are programmed to.
func Default() Parameters {
	return Parameters{
		Address:  0x524F,
		Channel:  0x17,
		Parity:   ParityNone,
		UARTRate: UART9600,
		AirRate:  Air9600,
		PushPull: true,
		Wakeup:   Wakeup250ms,
		FEC:      true,
		Power:    Power21dBm,
	}
}

func (p Parameters) Validate() error {
	if p.Channel > maxChannel {
		return fmt.Errorf("e32: channel 0x%02X above 0x%02X", p.Channel, maxChannel)
	}
	if p.Parity > ParityEven {
		return fmt.Errorf("e32: parity code %d", p.Parity)
	}
	if p.UARTRate > UART115200 {
		return fmt.Errorf("e32: uart rate code %d", p.UARTRate)
	}
	if p.AirRate > Air19200 {
		return fmt.Errorf("e32: air rate code %d", p.AirRate)
	}
	if p.Wakeup > Wakeup2000ms {
		return fmt.Errorf("e32: wakeup code %d", p.Wakeup)
	}
	if p.Power > Power21dBm {
		return fmt.Errorf("e32: power code %d", p.Power)
	}

	return nil
}

// Parameter block framing bytes.
const (
	headSaveParams = 0xC0 // write parameters to flash
	headTempParams = 0xC2 // write parameters to RAM only
	cmdReadParams  = 0xC1
)

var errBadParameterBlock = errors.New("e32: malformed parameter block")

// encode renders the six-byte parameter block the module understands:
// HEAD ADDH ADDL SPED CHAN OPTION.
func (p Parameters) encode(persist bool) [6]byte {
	head := byte(headTempParams)
	if persist {
		head = headSaveParams
	}
	sped := byte(p.Parity)<<6 | byte(p.UARTRate)<<3 | byte(p.AirRate)
	var option byte
	if p.FixedMode {
		option |= 1 << 7
	}
	if p.PushPull {
		option |= 1 << 6
	}
	option |= byte(p.Wakeup) << 3
	if p.FEC {
		option |= 1 << 2
	}
	option |= byte(p.Power)

	return [6]byte{head, byte(p.Address >> 8), byte(p.Address), sped, p.Channel, option}
}

func decodeParameters(block []byte) (Parameters, error) {
	if len(block) != 6 {
		return Parameters{}, fmt.Errorf("%w: %d bytes", errBadParameterBlock, len(block))
	}
	if block[0] != headSaveParams && block[0] != headTempParams {
		return Parameters{}, fmt.Errorf("%w: head 0x%02X", errBadParameterBlock, block[0])
	}

	return Parameters{
		Address:   uint16(block[1])<<8 | uint16(block[2]),
		Channel:   block[4],
		Parity:    Parity(block[3] >> 6),
		UARTRate:  UARTRate(block[3] >> 3 & 0x07),
		AirRate:   AirRate(block[3] & 0x07),
		FixedMode: block[5]&(1<<7) != 0,
		PushPull:  block[5]&(1<<6) != 0,
		Wakeup:    Wakeup(block[5] >> 3 & 0x07),
		FEC:       block[5]&(1<<2) != 0,
		Power:     Power(block[5] & 0x03),
	}, nil
}
