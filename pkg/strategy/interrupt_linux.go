//go:build linux

package strategy

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/danpilch/stacksampler/pkg/registry"
)

// Tgkill interrupts a thread of the current process with tgkill(2). The
// signal must be one the host handles by calling Signal.HandleInterrupt;
// SIGPROF is taken by the Go runtime and never reaches it.
type Tgkill struct {
	pid    int
	signal unix.Signal
}

// NewTgkill creates an interrupter sending sig to threads of this process.
func NewTgkill(sig unix.Signal) *Tgkill {
	return &Tgkill{pid: unix.Getpid(), signal: sig}
}

// Interrupt implements Interrupter.
func (t *Tgkill) Interrupt(rec registry.Record) error {
	if err := unix.Tgkill(t.pid, rec.OSThreadID, t.signal); err != nil {
		return fmt.Errorf("tgkill %d/%d %v: %w", t.pid, rec.OSThreadID, t.signal, err)
	}
	return nil
}

func currentThreadID() int {
	return unix.Gettid()
}
