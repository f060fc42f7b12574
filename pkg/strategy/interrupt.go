package strategy

import (
	"errors"

	"github.com/danpilch/stacksampler/pkg/registry"
)

// ErrNoInterrupter is returned when signal sampling is configured without
// an Interrupter.
var ErrNoInterrupter = errors.New("signal strategy requires an interrupter")

// Interrupter delivers an asynchronous interrupt to one native thread. The
// host owns the handler for that interrupt, and the handler must call
// Signal.HandleInterrupt; there is no default because nothing else would
// ever answer it.
type Interrupter interface {
	Interrupt(rec registry.Record) error
}

// InterrupterFunc adapts a function to the Interrupter interface.
type InterrupterFunc func(rec registry.Record) error

// Interrupt calls f.
func (f InterrupterFunc) Interrupt(rec registry.Record) error {
	return f(rec)
}
