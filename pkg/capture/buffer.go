// Package capture holds a copy of the top of a thread's stack and walks the
// frame-pointer chain inside it.
//
// All interpretation of raw stack bytes goes through Buffer: addresses from
// the live stack are translated into buffer offsets, and pointer-sized
// slots are read from those offsets. Nothing here dereferences live memory
// except the StackMemory implementation handed to Capture.
package capture

import (
	"encoding/binary"
	"fmt"
)

// PointerSize is the slot width of the frame-pointer chain.
const PointerSize = 8

// DefaultCapacity is the default number of stack bytes retained per sample.
const DefaultCapacity = 32 << 10

// Registers holds the register values read from the interrupted context.
type Registers struct {
	SP uintptr
	FP uintptr
}

// StackMemory reads the memory of the stack being captured. Read must not
// allocate, lock or block: it runs inside the interrupt handler.
type StackMemory interface {
	Read(dst []byte, addr uintptr) bool
}

// Buffer is a fixed-capacity copy of the top of a stack.
//
// The valid range is data[start:]. The last byte of data corresponds to the
// address base-1, so an address a translates to offset len(data)-(base-a).
type Buffer struct {
	data  []byte
	start int
	base  uintptr
	fp    uintptr
}

// NewBuffer allocates a buffer. capacity is rounded down to a multiple of
// PointerSize.
func NewBuffer(capacity int) (*Buffer, error) {
	capacity -= capacity % PointerSize
	if capacity <= 0 {
		return nil, fmt.Errorf("capture buffer capacity must be at least %d bytes", PointerSize)
	}
	data := make([]byte, capacity)
	return &Buffer{data: data, start: capacity}, nil
}

// Capture copies the most recent min(stackBase-sp, Cap()) bytes of the
// stack into the buffer. When the stack is larger than the buffer only the
// part closest to sp is kept and the recorded base is moved to the
// truncation point, so translation of the retained addresses stays exact.
//
// Capture does not allocate and is safe to call from an interrupt handler.
func (b *Buffer) Capture(mem StackMemory, stackBase uintptr, regs Registers) {
	size := len(b.data)
	b.fp = regs.FP
	b.start = size
	b.base = stackBase

	if regs.SP == 0 || regs.SP >= stackBase {
		return
	}
	n := stackBase - regs.SP
	if n > uintptr(size) {
		n = uintptr(size)
	}
	start := size - int(n)
	if !mem.Read(b.data[start:], regs.SP) {
		return
	}
	b.start = start
	b.base = regs.SP + n
}

// Cap returns the buffer capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Start returns the offset of the captured stack pointer.
func (b *Buffer) Start() int { return b.start }

// Base returns the stack address corresponding to the end of the buffer.
func (b *Buffer) Base() uintptr { return b.base }

// FramePointer returns the frame pointer recorded at capture.
func (b *Buffer) FramePointer() uintptr { return b.fp }

// Len returns the number of captured bytes.
func (b *Buffer) Len() int { return len(b.data) - b.start }

// Bytes returns the captured region. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.start:] }

// Offset translates a stack address into a buffer offset. ok is false when
// the address lies outside the captured region.
func (b *Buffer) Offset(addr uintptr) (off int, ok bool) {
	if addr >= b.base {
		return 0, false
	}
	dist := b.base - addr
	if dist > uintptr(len(b.data)) {
		return 0, false
	}
	off = len(b.data) - int(dist)
	if off < b.start {
		return 0, false
	}
	return off, true
}

// Address translates a buffer offset back into a stack address.
func (b *Buffer) Address(off int) uintptr {
	return b.base - uintptr(len(b.data)-off)
}

// ReadPointer reads the pointer-sized slot at off.
func (b *Buffer) ReadPointer(off int) (uintptr, bool) {
	if off < b.start || off+PointerSize > len(b.data) {
		return 0, false
	}
	return uintptr(binary.NativeEndian.Uint64(b.data[off : off+PointerSize])), true
}
