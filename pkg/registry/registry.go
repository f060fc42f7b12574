// Package registry maps host thread handles to the native identity of the
// OS thread backing them.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/host"
)

// ErrNoIdentity is returned when the calling thread's native identity
// cannot be determined.
var ErrNoIdentity = errors.New("native thread identity unavailable")

// Record is the native identity of a registered thread. Records are never
// mutated after insertion.
type Record struct {
	NativeHandle uint64  `json:"native_handle"`
	OSThreadID   int     `json:"os_thread_id"`
	StackBase    uintptr `json:"stack_base"`
}

// Identifier reports the native identity of the calling OS thread.
// The stack base has to be captured here, on the thread itself, because
// querying it later from an interrupt handler is not safe.
type Identifier interface {
	Current() (Record, error)
}

// IdentifierFunc adapts a function to the Identifier interface.
type IdentifierFunc func() (Record, error)

// Current calls f.
func (f IdentifierFunc) Current() (Record, error) {
	return f()
}

// Entry pairs a handle with its record.
type Entry struct {
	Handle host.ThreadHandle `json:"handle"`
	Record Record            `json:"record"`
}

// Registry is a concurrent handle → record map. Lookups may run in
// parallel; inserts are exclusive. It must never be used from an
// interrupt handler.
type Registry struct {
	mu      sync.RWMutex
	records map[host.ThreadHandle]Record
	ident   Identifier
	logger  *logrus.Logger
}

// New creates an empty registry. A nil identifier selects the platform
// default; a nil logger logs warnings and above to stderr.
func New(ident Identifier, logger *logrus.Logger) *Registry {
	if ident == nil {
		ident = DefaultIdentifier()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Registry{
		records: make(map[host.ThreadHandle]Record),
		ident:   ident,
		logger:  logger,
	}
}

// OnThreadCreated records the calling thread under handle. It must be
// called on the thread being registered. The first registration of a
// handle wins.
func (r *Registry) OnThreadCreated(handle host.ThreadHandle) error {
	rec, err := r.ident.Current()
	if err != nil {
		return fmt.Errorf("register thread %s: %w", handle, err)
	}
	r.Insert(handle, rec)
	return nil
}

// Insert stores rec under handle unless the handle is already present.
// It reports whether the record was stored.
func (r *Registry) Insert(handle host.ThreadHandle, rec Record) bool {
	r.mu.Lock()
	_, exists := r.records[handle]
	if !exists {
		r.records[handle] = rec
	}
	r.mu.Unlock()

	if exists {
		r.logger.WithFields(logrus.Fields{
			"handle": handle.String(),
			"tid":    rec.OSThreadID,
		}).Debug("Duplicate thread registration ignored")
		return false
	}

	r.logger.WithFields(logrus.Fields{
		"handle":     handle.String(),
		"tid":        rec.OSThreadID,
		"stack_base": fmt.Sprintf("0x%x", rec.StackBase),
	}).Debug("Thread registered")
	return true
}

// OnThreadDestroyed is accepted for interface completeness. Records are
// kept for the lifetime of the process.
// TODO: evict on destroy once thread handles are known not to be reused
// by the host before the destroyed event is delivered.
func (r *Registry) OnThreadDestroyed(handle host.ThreadHandle) {
	r.logger.WithField("handle", handle.String()).Debug("Thread destroyed (record retained)")
}

// Lookup returns the record for handle.
func (r *Registry) Lookup(handle host.ThreadHandle) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[handle]
	return rec, ok
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns all entries ordered by handle.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.records))
	for h, rec := range r.records {
		entries = append(entries, Entry{Handle: h, Record: rec})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Handle < entries[j].Handle
	})
	return entries
}
