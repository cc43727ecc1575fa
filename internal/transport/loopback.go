package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errLoopbackClosed = errors.New("loopback transport is closed")

// Loopback is one end of an in-memory duplex byte pipe. It mimics the serial
// transport's timing contract: Read returns n == 0 with a nil error when the
// read timeout elapses with nothing buffered. Used by tests and the in-process
// test-stand simulator.
type Loopback struct {
	name        string
	readTimeout time.Duration
	peer        *Loopback

	mu     sync.Mutex
	buf    []byte
	arrive chan struct{}
	closed bool
}

// NewLoopbackPair returns two connected ends; bytes written to one are read
// from the other.
func NewLoopbackPair(readTimeout time.Duration) (*Loopback, *Loopback) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	a := &Loopback{name: "loopback-a", readTimeout: readTimeout, arrive: make(chan struct{}, 1)}
	b := &Loopback{name: "loopback-b", readTimeout: readTimeout, arrive: make(chan struct{}, 1)}
	a.peer = b
	b.peer = a

	return a, b
}

func (l *Loopback) Name() string {
	return l.name
}

func (l *Loopback) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLoopbackClosed
	}
	return ctx.Err()
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.notify()
	return nil
}

func (l *Loopback) Read(p []byte) (int, error) {
	deadline := time.NewTimer(l.readTimeout)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		if len(l.buf) > 0 {
			n := copy(p, l.buf)
			l.buf = l.buf[n:]
			l.mu.Unlock()
			return n, nil
		}
		if l.closed {
			l.mu.Unlock()
			return 0, errLoopbackClosed
		}
		l.mu.Unlock()

		select {
		case <-l.arrive:
		case <-deadline.C:
			return 0, nil
		}
	}
}

func (l *Loopback) Write(p []byte) (int, error) {
	peer := l.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return 0, errLoopbackClosed
	}
	peer.buf = append(peer.buf, p...)
	peer.notify()

	return len(p), nil
}

// notify wakes a blocked reader; callers hold mu.
func (l *Loopback) notify() {
	select {
	case l.arrive <- struct{}{}:
	default:
	}
}
