package rxm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rxm/rxm"
)

func TestCancelPostedRecv(t *testing.T) {
	_, b := newPair(t, rxm.DefaultEndpointParams())

	buf := make([]byte, 16)
	require.NoError(t, b.Recv(rxm.AnyAddr, buf, "to-cancel", 0))

	require.NoError(t, b.Cancel("to-cancel"))

	comps := b.ReadCQ(0)
	require.Len(t, comps, 1)
	assert.ErrorIs(t, comps[0].Err, rxm.ErrCanceled)
	assert.Equal(t, "to-cancel", comps[0].Context)
}

func TestCancelTaggedPostedRecv(t *testing.T) {
	_, b := newPair(t, rxm.DefaultEndpointParams())

	buf := make([]byte, 16)
	require.NoError(t, b.TRecv(rxm.AnyAddr, buf, 0x42, 0, "to-cancel", 0))

	require.NoError(t, b.Cancel("to-cancel"))

	comps := b.ReadCQ(0)
	require.Len(t, comps, 1)
	assert.ErrorIs(t, comps[0].Err, rxm.ErrCanceled)
}

func TestCancelUnknownContextIsNoop(t *testing.T) {
	_, b := newPair(t, rxm.DefaultEndpointParams())

	require.NoError(t, b.Cancel("never posted"))
	assert.Empty(t, b.ReadCQ(0))
}

func TestCancelAlreadyCompletedIsNoop(t *testing.T) {
	a, b := newPair(t, rxm.DefaultEndpointParams())

	buf := make([]byte, 4)
	require.NoError(t, b.Recv(rxm.AnyAddr, buf, "already-done", 0))
	require.NoError(t, a.Send(rxm.AnyAddr, []byte("hi"), "send-ctx", 0))

	_ = readOne(t, b, []*rxm.Endpoint{a, b})

	require.NoError(t, b.Cancel("already-done"))
	assert.Empty(t, b.ReadCQ(0), "canceling a context that already completed must not produce a second completion")
}
