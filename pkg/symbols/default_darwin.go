//go:build darwin

package symbols

// NewDefault returns the Go runtime symbol table behind an address cache.
// Mach-O images are not walked.
func NewDefault() (Symbolizer, error) {
	return NewCached(GoRuntime{}, 4096)
}
