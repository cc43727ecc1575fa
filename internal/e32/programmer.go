package e32

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var (
	ErrVerifyFailed = errors.New("e32: parameter verification failed")
	ErrNoResponse   = errors.New("e32: module did not respond")
)

const (
	// writeVerifyAttempts bounds the write/read-back loop; the module
	// sometimes ignores the first writes after a mode switch.
	writeVerifyAttempts = 10

	defaultSettle     = 50 * time.Millisecond
	defaultRetryDelay = 100 * time.Millisecond

	// emptyReadLimit caps consecutive timed-out reads while waiting for a
	// parameter block; at the 100ms port timeout this is five seconds.
	emptyReadLimit = 50
)

// Port is the serial access the programmer needs. Reads must time out with
// n == 0 and a nil error rather than block forever.
type Port interface {
	io.ReadWriter
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Programmer drives one module's configuration interface.
type Programmer struct {
	logger *slog.Logger
	port   Port

	settle     time.Duration
	retryDelay time.Duration
}

func NewProgrammer(logger *slog.Logger, port Port) *Programmer {
	return &Programmer{
		logger:     logger.With("component", "e32"),
		port:       port,
		settle:     defaultSettle,
		retryDelay: defaultRetryDelay,
	}
}

// Program writes params to flash and verifies the readback, retrying until
// the module reports them active. The module is returned to transparent
// mode afterwards even on failure.
func (p *Programmer) Program(params Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := p.configMode(); err != nil {
		return err
	}
	defer func() {
		if err := p.normalMode(); err != nil {
			p.logger.Warn("Failed to leave configuration mode", "error", err)
		}
	}()

	// The module wants one read before it accepts writes.
	if _, err := p.readParameters(); err != nil {
		return fmt.Errorf("initial parameter read: %w", err)
	}

	var active Parameters
	for attempt := 1; attempt <= writeVerifyAttempts; attempt++ {
		if err := p.writeParameters(params); err != nil {
			return err
		}
		var err error
		active, err = p.readParameters()
		if err != nil {
			return err
		}
		if active == params {
			p.logger.Info("Radio module configured",
				"address", fmt.Sprintf("0x%04X", params.Address),
				"channel", fmt.Sprintf("0x%02X", params.Channel))
			return nil
		}
		p.logger.Warn("Parameters did not stick, retrying", "attempt", attempt)
		time.Sleep(p.retryDelay)
	}

	return fmt.Errorf("%w: wanted %+v, module reports %+v", ErrVerifyFailed, params, active)
}

// configMode raises M0 and M1 to enter the parameter interface.
func (p *Programmer) configMode() error {
	if err := p.port.SetDTR(true); err != nil {
		return fmt.Errorf("raise M0: %w", err)
	}
	if err := p.port.SetRTS(true); err != nil {
		return fmt.Errorf("raise M1: %w", err)
	}
	time.Sleep(p.settle)

	return nil
}

// normalMode drops M0 and M1 back to transparent transmission.
func (p *Programmer) normalMode() error {
	if err := p.port.SetDTR(false); err != nil {
		return fmt.Errorf("drop M0: %w", err)
	}
	if err := p.port.SetRTS(false); err != nil {
		return fmt.Errorf("drop M1: %w", err)
	}
	time.Sleep(p.settle)

	return nil
}

func (p *Programmer) writeParameters(params Parameters) error {
	block := params.encode(true)
	if err := p.writeFull(block[:]); err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	time.Sleep(p.settle)

	return nil
}

func (p *Programmer) readParameters() (Parameters, error) {
	if err := p.writeFull([]byte{cmdReadParams, cmdReadParams, cmdReadParams}); err != nil {
		return Parameters{}, fmt.Errorf("request parameters: %w", err)
	}
	var block [6]byte
	if err := p.readFull(block[:]); err != nil {
		return Parameters{}, err
	}

	return decodeParameters(block[:])
}

func (p *Programmer) writeFull(data []byte) error {
	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}

	return nil
}

func (p *Programmer) readFull(buf []byte) error {
	got, empty := 0, 0
	for got < len(buf) {
		n, err := p.port.Read(buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			empty++
			if empty > emptyReadLimit {
				return ErrNoResponse
			}
			continue
		}
		empty = 0
		got += n
	}

	return nil
}
