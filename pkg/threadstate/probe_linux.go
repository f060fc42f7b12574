//go:build linux

package threadstate

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/danpilch/stacksampler/pkg/registry"
)

// procProbe reads /proc/<pid>/task/<tid>/stat.
type procProbe struct {
	root string
}

// NewProbe returns the procfs probe for the current process.
func NewProbe() Probe {
	return &procProbe{root: "/proc/self/task"}
}

// State implements Probe. A missing stat file means the thread has exited.
func (p *procProbe) State(rec registry.Record) State {
	data, err := os.ReadFile(p.root + "/" + strconv.Itoa(rec.OSThreadID) + "/stat")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Dead
		}
		return Running
	}
	c, err := parseStatState(data)
	if err != nil {
		return Running
	}
	return MapLinuxState(c)
}
