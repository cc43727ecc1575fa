// Package transport abstracts the byte stream between the ground station and
// the radio module. Implementations deliver raw bytes; framing and protocol
// interpretation happen upstream.
package transport

import "context"

// Transport is a duplex byte stream with bounded-timeout reads.
//
// Read fills p with whatever bytes arrive before the implementation's read
// timeout elapses and returns n == 0 with a nil error when the timeout fires
// with nothing received. The station loop relies on that tick to drive its
// timers, so implementations must not block indefinitely.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}
