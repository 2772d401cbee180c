package transport

import (
	"net"
	"sync/atomic"
	"time"

	uio "omvp-toolkit/util/io"
)

type connTransport struct {
	conn   net.Conn
	closed atomic.Bool
}

// NewConn adapts any net.Conn (TCP, unix socket, an in-memory test
// pair) into a Transport.
func NewConn(conn net.Conn) Transport {
	return &connTransport{conn: conn}
}

// Dial connects a TCP transport to a device at addr.
func Dial(addr string) (Transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

func (c *connTransport) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

func (c *connTransport) WriteAll(p []byte) error {
	return uio.WriteFull(c.conn, p)
}

func (c *connTransport) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *connTransport) Ready() bool {
	return !c.closed.Load()
}

func (c *connTransport) Close() error {
	c.closed.Store(true)
	return c.conn.Close()
}
