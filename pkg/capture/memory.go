package capture

import (
	"encoding/binary"
	"unsafe"
)

// LiveMemory reads the current process's memory directly. It is only valid
// for addresses on a stack whose owner is stopped in the interrupt handler
// performing the read.
type LiveMemory struct{}

// Read implements StackMemory.
func (LiveMemory) Read(dst []byte, addr uintptr) bool {
	if addr == 0 || len(dst) == 0 {
		return len(dst) == 0
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(dst))
	copy(dst, src)
	return true
}

// SyntheticStack is an in-memory stack image covering [Base-len(Data), Base).
type SyntheticStack struct {
	Base uintptr
	Data []byte
}

// NewSyntheticStack allocates a zeroed stack image of size bytes ending at base.
func NewSyntheticStack(base uintptr, size int) *SyntheticStack {
	return &SyntheticStack{Base: base, Data: make([]byte, size)}
}

// Low returns the lowest address covered by the image.
func (s *SyntheticStack) Low() uintptr {
	return s.Base - uintptr(len(s.Data))
}

// Read implements StackMemory.
func (s *SyntheticStack) Read(dst []byte, addr uintptr) bool {
	if addr < s.Low() || addr+uintptr(len(dst)) > s.Base {
		return false
	}
	off := int(addr - s.Low())
	copy(dst, s.Data[off:off+len(dst)])
	return true
}

// PutPointer stores v in the slot at addr.
func (s *SyntheticStack) PutPointer(addr, v uintptr) {
	off := int(addr - s.Low())
	binary.NativeEndian.PutUint64(s.Data[off:off+PointerSize], uint64(v))
}
