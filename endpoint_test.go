package rxm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rxm/rxm"
	"github.com/go-rxm/rxm/internal/cmap"
	"github.com/go-rxm/rxm/internal/looptransport"
)

func TestOpenRejectsNilCollaborators(t *testing.T) {
	tr, _ := looptransport.NewPair()
	_, err := rxm.Open(nil, cmap.New(constResolver{}), rxm.DefaultEndpointParams())
	require.Error(t, err)
	assert.True(t, rxm.IsCode(err, rxm.CodeInval))

	_, err = rxm.Open(tr, nil, rxm.DefaultEndpointParams())
	require.Error(t, err)
	assert.True(t, rxm.IsCode(err, rxm.CodeInval))
}

func TestLifecycleOrderingEnforced(t *testing.T) {
	trA, _ := looptransport.NewPair()
	ep, err := rxm.Open(trA, cmap.New(constResolver{}), rxm.DefaultEndpointParams())
	require.NoError(t, err)

	err = ep.Enable()
	require.Error(t, err, "enable before bind must fail")
	assert.True(t, rxm.IsCode(err, rxm.CodeBadState))

	require.NoError(t, ep.Bind())
	err = ep.Bind()
	require.Error(t, err, "double bind must fail")

	require.NoError(t, ep.Enable())

	require.NoError(t, ep.Close())
	err = ep.Close()
	require.Error(t, err, "double close must fail")
	assert.True(t, rxm.IsCode(err, rxm.CodeBadState))
}

func TestCloseCancelsOutstandingPostedRecvs(t *testing.T) {
	trA, _ := looptransport.NewPair()
	ep, err := rxm.Open(trA, cmap.New(constResolver{}), rxm.DefaultEndpointParams())
	require.NoError(t, err)
	require.NoError(t, ep.Bind())
	require.NoError(t, ep.Enable())

	require.NoError(t, ep.Recv(rxm.AnyAddr, make([]byte, 8), "untagged-ctx", 0))
	require.NoError(t, ep.TRecv(rxm.AnyAddr, make([]byte, 8), 0x1, 0, "tagged-ctx", 0))

	require.NoError(t, ep.Close())

	comps := ep.ReadCQ(0)
	require.Len(t, comps, 2)
	for _, c := range comps {
		assert.ErrorIs(t, c.Err, rxm.ErrCanceled)
	}
}
