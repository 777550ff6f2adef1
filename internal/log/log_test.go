package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/config"
)

func TestPatternFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.LogConfig{Level: "debug", Pattern: "[%level] %msg {%field}"}, &buf)

	l.WithFields(map[string]interface{}{"tag": 7, "size": 200}).Debug("fragment dropped")

	assert.Equal(t, "[DEBUG] fragment dropped {size=200,tag=7}\n", buf.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.LogConfig{Level: "warn"}, &buf)

	l.Info("hidden")
	l.WithError(errors.New("boom")).Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "error=boom")
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsInfoEnabled())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l := New(config.LogConfig{Level: "verbose"}, &bytes.Buffer{})
	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterKeepsGoing(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)

	n, err := m.Write([]byte("line"))
	assert.Equal(t, 4, n)
	assert.Error(t, err)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lowpan.log")
	m := NewMultiWriter().AddFileAppender(config.FileOutputConfig{Enabled: true, Path: path, MaxSizeMB: 1})
	l := New(config.LogConfig{Level: "info"}, m)

	l.WithField("interface", "lowpan0").Info("reassembled datagram")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "interface=lowpan0 reassembled datagram"), string(data))
}

func TestGetLoggerDefault(t *testing.T) {
	require.NotNil(t, GetLogger())
	require.NoError(t, Init(config.LogConfig{Level: "error"}))
	assert.NotNil(t, GetLogger())
}
