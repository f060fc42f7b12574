// Package symbols resolves native instruction addresses to symbol names on
// a best-effort basis.
package symbols

import (
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Symbol is the result of a successful lookup.
type Symbol struct {
	Name   string
	Offset uintptr
}

// Symbolizer looks up the symbol covering an address.
type Symbolizer interface {
	Symbolize(addr uintptr) (Symbol, bool)
}

// SymbolizerFunc adapts a function to the Symbolizer interface.
type SymbolizerFunc func(addr uintptr) (Symbol, bool)

// Symbolize calls f.
func (f SymbolizerFunc) Symbolize(addr uintptr) (Symbol, bool) {
	return f(addr)
}

// Chain tries each symbolizer in order.
type Chain []Symbolizer

// Symbolize implements Symbolizer.
func (c Chain) Symbolize(addr uintptr) (Symbol, bool) {
	for _, s := range c {
		if sym, ok := s.Symbolize(addr); ok {
			return sym, true
		}
	}
	return Symbol{}, false
}

// GoRuntime resolves addresses inside Go text using the runtime's own
// symbol table.
type GoRuntime struct{}

// Symbolize implements Symbolizer.
func (GoRuntime) Symbolize(addr uintptr) (Symbol, bool) {
	fn := runtime.FuncForPC(addr)
	if fn == nil {
		return Symbol{}, false
	}
	return Symbol{Name: fn.Name(), Offset: addr - fn.Entry()}, true
}

type cacheEntry struct {
	sym Symbol
	ok  bool
}

// Cached memoizes lookups, including misses, in an LRU of the given size.
type Cached struct {
	inner Symbolizer
	cache *lru.Cache[uintptr, cacheEntry]
}

// NewCached wraps inner with an address cache.
func NewCached(inner Symbolizer, size int) (*Cached, error) {
	cache, err := lru.New[uintptr, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Symbolize implements Symbolizer.
func (c *Cached) Symbolize(addr uintptr) (Symbol, bool) {
	if e, ok := c.cache.Get(addr); ok {
		return e.sym, e.ok
	}
	sym, ok := c.inner.Symbolize(addr)
	c.cache.Add(addr, cacheEntry{sym: sym, ok: ok})
	return sym, ok
}
