package transport

import (
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	uerrors "omvp-toolkit/util/errors"
	uio "omvp-toolkit/util/io"
)

type serialTransport struct {
	port   serial.Port
	closed atomic.Bool
}

// OpenSerial opens a UART transport, e.g. /dev/ttyACM0 for a camera
// enumerated as a CDC device.
func OpenSerial(device string, baud int) (Transport, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return &serialTransport{port: port}, nil
}

func (s *serialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return 0, err
	}
	// a zero-length read is the port's timeout signal
	if n == 0 {
		return 0, uerrors.ErrTimeout
	}
	return n, nil
}

func (s *serialTransport) WriteAll(p []byte) error {
	return uio.WriteFull(s.port, p)
}

func (s *serialTransport) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

func (s *serialTransport) Ready() bool {
	return !s.closed.Load()
}

func (s *serialTransport) Close() error {
	s.closed.Store(true)
	return s.port.Close()
}
