package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/stacksampler/pkg/capture"
)

func TestWriterText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(FormatText, &buf)

	require.NoError(t, w.WriteStack(0x2a, []capture.Frame{
		{Kind: capture.Managed, Name: "App.Main", FunctionID: 0xabc},
		{Kind: capture.Native, Name: "start_thread", Offset: 0x40},
		{Kind: capture.Unknown, IP: 0x10},
	}))
	require.NoError(t, w.WriteStack(0x2b, nil))

	assert.Equal(t,
		"Thread 0x2A:\n"+
			"    App.Main (identifier=0xABC)\n"+
			"    start_thread+0x40\n"+
			"    Unknown\n"+
			"Thread 0x2B: <empty stack>\n",
		buf.String())
	assert.Equal(t, 2, w.Stacks())
}

func TestWriterTable(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(FormatTable, &buf)

	require.NoError(t, w.WriteStack(7, []capture.Frame{
		{Kind: capture.Native, Name: "epoll_wait", Offset: 0x1b, IP: 0x7f00},
	}))

	out := buf.String()
	assert.Contains(t, out, "Thread 0x7")
	assert.Contains(t, out, "epoll_wait+0x1B")
	assert.Contains(t, out, "FRAME")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("table")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	_, err = ParseFormat("pprof")
	assert.Error(t, err)
}
