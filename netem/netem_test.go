package netem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omvp-toolkit/util/mocks"
)

func readAll(t *testing.T, c interface {
	Read([]byte) (int, error)
	SetReadDeadline(time.Time) error
}, want int) []byte {
	t.Helper()
	buf := make([]byte, want)
	got := 0
	c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	for got < want {
		n, err := c.Read(buf[got:])
		if err != nil {
			break
		}
		got += n
	}
	return buf[:got]
}

func TestChop(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	ne := New(c1, Config{WriteChopSize: 3})
	defer ne.Close()
	defer c2.Close()

	data := []byte("abcdefghij")
	n, err := ne.Write(data)
	require.Nil(err)
	require.Equal(len(data), n)
	require.Equal(data, readAll(t, c2, len(data)))
}

func TestLoss(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	ne := New(c1, Config{WriteChopSize: 2, WriteLossNth: 2})
	defer ne.Close()
	defer c2.Close()

	_, err := ne.Write([]byte("abcdefgh"))
	require.Nil(err)
	require.Equal([]byte("abef"), readAll(t, c2, 4))
}

func TestDuplicate(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	ne := New(c1, Config{WriteChopSize: 2, WriteDuplicateNth: 2})
	defer ne.Close()
	defer c2.Close()

	_, err := ne.Write([]byte("abcd"))
	require.Nil(err)
	require.Equal([]byte("abcdcd"), readAll(t, c2, 6))
}

func TestCorrupt(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	ne := New(c1, Config{WriteCorruptNth: 1})
	defer ne.Close()
	defer c2.Close()

	_, err := ne.Write([]byte{0x00, 0x00, 0x00, 0x00})
	require.Nil(err)
	got := readAll(t, c2, 4)
	require.Equal([]byte{0x00, 0x00, 0x04, 0x00}, got)
}

func TestReset(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	ne := New(c1, Config{WriteLossNth: 1})
	defer ne.Close()
	defer c2.Close()

	ne.Reset()
	_, err := ne.Write([]byte("kept"))
	require.Nil(err)
	require.Equal([]byte("kept"), readAll(t, c2, 4))
}
