package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelInfo, ParseLevel("INFO"))
	require.Equal(t, LevelWarn, ParseLevel(" warning "))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel(""))
	require.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, "[test]")

	l.Debug("dropped %d", 1)
	l.Info("dropped %d", 2)
	l.Warn("kept %d", 3)
	l.Error("kept %d", 4)

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "[WARN] kept 3")
	require.Contains(t, out, "[ERROR] kept 4")
	require.Equal(t, 2, strings.Count(out, "\n"))
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelError, "[test]")

	l.Info("first")
	l.SetLevel(LevelDebug)
	l.Debug("second")

	out := buf.String()
	require.NotContains(t, out, "first")
	require.Contains(t, out, "second")
}
