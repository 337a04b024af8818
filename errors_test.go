package rxm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-rxm/rxm"
)

func TestErrorIsMatchesSentinelByCode(t *testing.T) {
	err := rxm.NewError("send", rxm.CodeAgain, "tx pool exhausted")
	assert.True(t, errors.Is(err, rxm.ErrAgain))
	assert.False(t, errors.Is(err, rxm.ErrCanceled))
}

func TestWrapTransportErrorPreservesStructuredError(t *testing.T) {
	inner := rxm.NewError("recv", rxm.CodeInval, "bad state")
	wrapped := rxm.WrapTransportError("progress", inner)
	assert.Same(t, inner, wrapped)
}

func TestWrapTransportErrorWrapsPlainError(t *testing.T) {
	inner := errors.New("boom")
	wrapped := rxm.WrapTransportError("progress", inner)
	assert.True(t, rxm.IsCode(wrapped, rxm.CodeTransportError))
	assert.True(t, rxm.IsTransportError(wrapped))
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapTransportErrorNilIsNil(t *testing.T) {
	assert.Nil(t, rxm.WrapTransportError("op", nil))
}

func TestIsCodeFalseForUnrelatedError(t *testing.T) {
	assert.False(t, rxm.IsCode(errors.New("plain"), rxm.CodeAgain))
}
