//go:build linux

package strategy

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/danpilch/stacksampler/pkg/registry"
)

func TestTgkillTargetsThreadsOfThisProcess(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Signal 0 only checks that the thread exists.
	tk := NewTgkill(0)
	assert.NoError(t, tk.Interrupt(registry.Record{OSThreadID: unix.Gettid()}))
	assert.ErrorIs(t, tk.Interrupt(registry.Record{OSThreadID: 1 << 30}), unix.ESRCH)
}

func TestCurrentThreadIDIsGettid(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	assert.Equal(t, unix.Gettid(), currentThreadID())
}
