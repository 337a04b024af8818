package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsToStderrAtInfo(t *testing.T) {
	l := NewLogger(nil)
	require.NotNil(t, l)
	assert.Equal(t, LevelInfo, l.level)
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("this appears")
	l.Error("and this")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "[WARN] this appears")
	assert.Contains(t, out, "[ERROR] and this")
}

func TestFormatArgsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	l.Debug("matched entry", "tag", uint64(0x42), "addr", 7)
	line := buf.String()
	assert.True(t, strings.Contains(line, "tag=66"))
	assert.True(t, strings.Contains(line, "addr=7"))
}

func TestWithBindsFieldsToPrintfStyleCalls(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	bound := l.With("msg_id", uint64(0x7), "conn_id", 3)

	bound.Warnf("dropping packet: %v", "bad version")
	bound.Debugf("short packet")

	out := buf.String()
	assert.True(t, strings.Contains(out, "msg_id=7"))
	assert.True(t, strings.Contains(out, "conn_id=3"))
	assert.True(t, strings.Contains(out, "dropping packet: bad version"))
}

func TestWithChainsAdditionalFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	outer := l.With("conn_id", 1)
	inner := outer.With("msg_id", 9)

	inner.Errorf("failed")
	out := buf.String()
	assert.True(t, strings.Contains(out, "conn_id=1"))
	assert.True(t, strings.Contains(out, "msg_id=9"))
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)

	custom := NewLogger(&Config{Level: LevelError, Output: &bytes.Buffer{}})
	SetDefault(custom)
	assert.Same(t, custom, Default())

	// restore so other tests aren't affected by package-level state
	SetDefault(NewLogger(nil))
}
