package errors

import (
	"errors"
	"net"
	"os"
)

var ErrTimeout = errors.New("timeout")

// IsTimeout reports whether err represents an expired deadline,
// whichever layer produced it.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
