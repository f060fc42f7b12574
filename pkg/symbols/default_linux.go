//go:build linux

package symbols

// NewDefault returns the Go runtime table followed by the ELF tables of
// every file mapped into the process, behind an address cache.
func NewDefault() (Symbolizer, error) {
	elfSyms, err := NewELF("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	return NewCached(Chain{GoRuntime{}, elfSyms}, 4096)
}
