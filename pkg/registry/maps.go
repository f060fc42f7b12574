package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errNotThreadStack is returned when addr is mapped but the mapping does
// not look like a native thread stack (for example a Go heap arena, where
// goroutine stacks live).
var errNotThreadStack = errors.New("mapping is not a thread stack")

type mapsEntry struct {
	start, end uint64
	perms      string
	path       string
}

func parseMapsLine(line string) (mapsEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mapsEntry{}, false
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return mapsEntry{}, false
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return mapsEntry{}, false
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return mapsEntry{}, false
	}
	e := mapsEntry{start: start, end: end, perms: fields[1]}
	if len(fields) >= 6 {
		e.path = fields[5]
	}
	return e, true
}

// isGuard reports a PROT_NONE private mapping.
func (e mapsEntry) isGuard() bool {
	return strings.HasPrefix(e.perms, "---")
}

// stackBaseFromMaps returns the end (highest address) of the thread-stack
// mapping in a /proc/<pid>/maps listing that contains addr. Stacks grow
// down, so the end of the mapping is the stack base.
//
// Only two kinds of mapping qualify: the main thread's "[stack]", and an
// anonymous read-write mapping sitting directly above a guard page, which
// is how pthread stacks are laid out.
func stackBaseFromMaps(r io.Reader, addr uintptr) (uintptr, error) {
	var prev mapsEntry
	havePrev := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e, ok := parseMapsLine(scanner.Text())
		if !ok {
			continue
		}
		if uint64(addr) >= e.start && uint64(addr) < e.end {
			if e.path == "[stack]" {
				return uintptr(e.end), nil
			}
			guarded := havePrev && prev.isGuard() && prev.end == e.start
			if e.path == "" && strings.HasPrefix(e.perms, "rw") && guarded {
				return uintptr(e.end), nil
			}
			return 0, fmt.Errorf("0x%x in %x-%x: %w", addr, e.start, e.end, errNotThreadStack)
		}
		prev, havePrev = e, true
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no mapping contains 0x%x", addr)
}
