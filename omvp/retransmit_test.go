package omvp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omvp-toolkit/wire"
)

func TestRtxQueueBound(t *testing.T) {
	require := require.New(t)
	q := rtxQueue{limit: 2}

	require.True(q.push(rtxEntry{seq: 1, opcode: wire.OpSysEvent}))
	require.True(q.push(rtxEntry{seq: 2, opcode: wire.OpSysEvent}))
	require.True(q.full())
	require.False(q.push(rtxEntry{seq: 3, opcode: wire.OpSysEvent}))
	require.Equal(2, q.depth())
}

func TestRtxQueueAckFIFO(t *testing.T) {
	require := require.New(t)
	q := rtxQueue{limit: 8}

	q.push(rtxEntry{seq: 1, channel: 2, opcode: wire.OpChannelRead})
	q.push(rtxEntry{seq: 2, channel: 2, opcode: wire.OpChannelRead})
	q.push(rtxEntry{seq: 3, channel: 0, opcode: wire.OpProtoStats})

	ent, ok := q.ack(2, wire.OpChannelRead)
	require.True(ok)
	require.Equal(uint8(1), ent.seq)

	_, ok = q.ack(2, wire.OpChannelWrite)
	require.False(ok)

	ent, ok = q.ack(0, wire.OpProtoStats)
	require.True(ok)
	require.Equal(uint8(3), ent.seq)
	require.Equal(1, q.depth())
}

func TestRtxQueueClearNotifies(t *testing.T) {
	require := require.New(t)
	q := rtxQueue{limit: 4}
	ch := make(chan error, 1)
	q.push(rtxEntry{seq: 1, result: ch, deadline: time.Now().Add(time.Hour)})

	q.clear(ErrSyncReset)
	require.Zero(q.depth())
	select {
	case err := <-ch:
		require.Equal(ErrSyncReset, err)
	default:
		t.Fatal("originator not notified")
	}
}
