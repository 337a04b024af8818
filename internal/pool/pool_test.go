package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToAlignment(t *testing.T) {
	p, err := New(10, 4, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, p.ElemSize())
	assert.Equal(t, 4, p.Cap())
	assert.Equal(t, 4, p.Len())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, err := New(64, 2, nil, nil)
	require.NoError(t, err)

	b1, err := p.Acquire()
	require.NoError(t, err)
	b2, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrExhausted)

	p.Release(b1)
	assert.Equal(t, 1, p.Len())
	p.Release(b2)
	assert.Equal(t, 2, p.Len())
}

func TestRegisteredPoolRegistersAndClosesEachChunk(t *testing.T) {
	var registered, closed int
	register := func(chunk []byte) (any, error) {
		registered++
		return len(chunk), nil
	}
	closeFn := func(desc any) error {
		closed++
		return nil
	}

	p, err := New(32, 3, register, closeFn)
	require.NoError(t, err)
	assert.Equal(t, 3, registered)

	require.NoError(t, p.Close())
	assert.Equal(t, 3, closed)
}

func TestRegisterFailureUnwindsPriorRegistrations(t *testing.T) {
	var closed int
	i := 0
	register := func(chunk []byte) (any, error) {
		i++
		if i == 2 {
			return nil, assertErr
		}
		return i, nil
	}
	closeFn := func(desc any) error {
		closed++
		return nil
	}

	_, err := New(32, 3, register, closeFn)
	require.Error(t, err)
	assert.Equal(t, 1, closed)
}

var assertErr = &poolTestError{"registration failed"}

type poolTestError struct{ msg string }

func (e *poolTestError) Error() string { return e.msg }
