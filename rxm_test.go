package rxm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rxm/rxm"
	"github.com/go-rxm/rxm/internal/cmap"
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/looptransport"
)

type constResolver struct {
	handle iface.ConnHandle
}

func (r constResolver) Resolve(addr uint64) (iface.ConnHandle, error) {
	return r.handle, nil
}

// newPair opens and enables two endpoints wired to each other over an
// in-memory looptransport.Pair, with the given params applied to both
// sides (zero-value fields are filled with package defaults by Open).
func newPair(t *testing.T, params rxm.EndpointParams) (a, b *rxm.Endpoint) {
	t.Helper()

	trA, trB := looptransport.NewPair()
	handleA := looptransport.HandleFor(trA)
	handleB := looptransport.HandleFor(trB)

	cmapA := cmap.New(constResolver{handleB})
	cmapB := cmap.New(constResolver{handleA})

	a, err := rxm.Open(trA, cmapA, params)
	require.NoError(t, err)
	b, err = rxm.Open(trB, cmapB, params)
	require.NoError(t, err)

	require.NoError(t, a.Bind())
	require.NoError(t, b.Bind())
	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// pumpUntil progresses both endpoints until cond returns true or the
// iteration budget is exhausted.
func pumpUntil(t *testing.T, eps []*rxm.Endpoint, cond func() bool) {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		if cond() {
			return
		}
		for _, e := range eps {
			_ = e.ProgressMulti()
		}
	}
	t.Fatal("pumpUntil: condition never satisfied")
}

func readOne(t *testing.T, ep *rxm.Endpoint, eps []*rxm.Endpoint) rxm.Completion {
	t.Helper()
	var got []rxm.Completion
	pumpUntil(t, eps, func() bool {
		got = ep.ReadCQ(1)
		return len(got) == 1
	})
	return got[0]
}
