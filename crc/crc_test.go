package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var check = []byte("123456789")

func TestChecksum16(t *testing.T) {
	require := require.New(t)
	require.Equal(uint16(0x29B1), Checksum16(check))
	require.Equal(Init16, Checksum16(nil))
}

func TestChecksum32(t *testing.T) {
	require := require.New(t)
	require.Equal(uint32(0xCBF43926), Checksum32(check))
}

func TestIncremental(t *testing.T) {
	require := require.New(t)
	for split := 0; split <= len(check); split++ {
		c16 := Update16(Init16, check[:split])
		c16 = Update16(c16, check[split:])
		require.Equal(Checksum16(check), c16)

		c32 := Update32(Init32, check[:split])
		c32 = Update32(c32, check[split:])
		require.Equal(Checksum32(check), c32)
	}
}
