package capture

import "fmt"

// Kind classifies a frame.
type Kind int

const (
	Unknown Kind = iota
	Managed
	Native
)

func (k Kind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Native:
		return "native"
	default:
		return "unknown"
	}
}

// Frame is one resolved stack frame.
type Frame struct {
	IP         uintptr
	Kind       Kind
	Name       string
	Offset     uintptr
	FunctionID uint64
}

// String renders the frame as a single output line.
func (f Frame) String() string {
	switch f.Kind {
	case Managed:
		return fmt.Sprintf("%s (identifier=0x%X)", f.Name, f.FunctionID)
	case Native:
		return fmt.Sprintf("%s+0x%X", f.Name, f.Offset)
	default:
		return "Unknown"
	}
}

// MaxSteps is the upper bound on frames a walk over b can visit. Every step
// consumes a distinct frame record slot, so a chain longer than this must
// contain a cycle.
func (b *Buffer) MaxSteps() int {
	return len(b.data) / PointerSize
}

// Walk follows the frame-pointer chain starting at the captured frame
// pointer. Each frame record is {saved FP, return address}; visit is called
// with every return address, leaf first, until the chain leaves the
// captured region, visit returns false, or MaxSteps is reached. Walk returns
// the number of frames visited.
func (b *Buffer) Walk(visit func(ret uintptr) bool) int {
	steps := 0
	fp := b.fp
	limit := b.MaxSteps()

	for steps < limit {
		off, ok := b.Offset(fp)
		if !ok {
			break
		}
		ret, ok := b.ReadPointer(off + PointerSize)
		if !ok {
			break
		}
		steps++
		if !visit(ret) {
			break
		}
		next, ok := b.ReadPointer(off)
		if !ok {
			break
		}
		fp = next
	}
	return steps
}
