package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout matches the radio module's answer cadence; it doubles as
// the station tick interval.
const DefaultReadTimeout = 100 * time.Millisecond

type SerialTransport struct {
	portName    string
	baudRate    int
	readTimeout time.Duration

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

func NewSerialTransport(portName string, baudRate int, readTimeout time.Duration) *SerialTransport {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &SerialTransport{
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: readTimeout,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Port exposes the underlying serial port for module configuration (control
// lines, parameter programming). Valid only while connected.
func (t *SerialTransport) Port() (serial.Port, error) {
	return t.currentPort()
}

// Read returns n == 0 with a nil error when the read timeout elapses without
// data, which is the behavior go.bug.st/serial provides after
// SetReadTimeout.
func (t *SerialTransport) Read(p []byte) (int, error) {
	port, err := t.currentPort()
	if err != nil {
		return 0, err
	}

	return port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	port, err := t.currentPort()
	if err != nil {
		return 0, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	written := 0
	for written < len(p) {
		n, err := port.Write(p[written:])
		if err != nil {
			return written, fmt.Errorf("write serial: %w", err)
		}
		if n == 0 {
			continue
		}
		written += n
	}

	return written, nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, errors.New("transport is not connected")
	}
	return t.port, nil
}
