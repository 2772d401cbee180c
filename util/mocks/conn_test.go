package mocks

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnRoundTrip(t *testing.T) {
	require := require.New(t)
	c1, c2 := Conn()
	defer c1.Close()
	defer c2.Close()

	_, err := c1.Write([]byte("ping"))
	require.Nil(err)

	buf := make([]byte, 16)
	n, err := c2.Read(buf)
	require.Nil(err)
	require.Equal("ping", string(buf[:n]))
}

func TestConnWriteNeverBlocks(t *testing.T) {
	require := require.New(t)
	c1, c2 := Conn()
	defer c1.Close()
	defer c2.Close()

	// nobody is reading c2 yet
	for i := 0; i < 100; i++ {
		_, err := c1.Write(make([]byte, 512))
		require.Nil(err)
	}
}

func TestConnReadDeadline(t *testing.T) {
	require := require.New(t)
	c1, c2 := Conn()
	defer c1.Close()
	defer c2.Close()

	require.Nil(c2.SetReadDeadline(time.Now().Add(20 * time.Millisecond)))
	_, err := c2.Read(make([]byte, 4))
	require.Equal(os.ErrDeadlineExceeded, err)
}
