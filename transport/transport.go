// Package transport abstracts the byte pipe beneath the protocol
// engine. The engine never knows whether bytes ride USB CDC, a UART, a
// TCP socket or a WebSocket; it only reads chunks and writes frames.
package transport

import (
	"io"
	"time"
)

// Transport is a byte channel. Read blocks until at least one byte is
// available (or the read deadline expires) and may return any chunk
// size. WriteAll returns only once the transport has accepted every
// byte.
type Transport interface {
	io.Closer
	Read(p []byte) (int, error)
	WriteAll(p []byte) error
	SetReadDeadline(t time.Time) error
	Ready() bool
}
