package debug

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

type slowStrategy struct{ delay time.Duration }

func (s slowStrategy) Name() string                 { return "slow" }
func (s slowStrategy) BeforeSampleAllThreads() bool { return true }
func (s slowStrategy) AfterSampleAllThreads() bool  { return false }

func (s slowStrategy) SampleThread(h host.ThreadHandle) bool {
	time.Sleep(s.delay)
	return h%2 == 0
}

func TestTimedStrategyRecordsCalls(t *testing.T) {
	ts := NewTimedStrategy(slowStrategy{delay: 2 * time.Millisecond})

	assert.Equal(t, "slow", ts.Name())
	assert.True(t, ts.BeforeSampleAllThreads())
	assert.False(t, ts.SampleThread(1))
	assert.True(t, ts.SampleThread(2))
	assert.False(t, ts.AfterSampleAllThreads(), "results pass through")

	timings := ts.Timings()
	require.Len(t, timings, 3)
	assert.Equal(t, 1, timings[0].Calls)
	assert.Equal(t, 2, timings[1].Calls)
	assert.GreaterOrEqual(t, timings[1].Max, 2*time.Millisecond)
	assert.GreaterOrEqual(t, timings[1].Mean(), 2*time.Millisecond)
	assert.Equal(t, time.Duration(0), Timing{}.Mean())

	var buf bytes.Buffer
	TimingReport(&buf, ts.Name(), timings)
	assert.Contains(t, buf.String(), "sample")
	assert.Contains(t, buf.String(), "TOTAL")
}

func TestDumpRegistry(t *testing.T) {
	entries := []registry.Entry{
		{Handle: 0x10, Record: registry.Record{NativeHandle: 0xabc, OSThreadID: 4242, StackBase: 0x7ffd0000}},
	}
	probe := threadstate.ProbeFunc(func(registry.Record) threadstate.State { return threadstate.Suspended })

	var buf bytes.Buffer
	DumpRegistry(&buf, entries, probe)
	out := buf.String()
	assert.Contains(t, out, "0x10")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "0x7ffd0000")
	assert.Contains(t, out, "suspended")
}

func TestStartServer(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	extra := map[string]http.Handler{
		"/healthz": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ok")
		}),
	}

	addr, stop, err := StartServer("127.0.0.1:0", extra, logger)
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
