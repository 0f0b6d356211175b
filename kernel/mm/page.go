// Package mm defines the basic types shared by the physical and virtual memory
// managers: frames, pages, memory regions and the frame source capability.
package mm

import (
	"akjoos/kernel"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame sources when they fail to reserve
	// the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// FrameSource is implemented by physical frame allocators. Each successful
// call to AllocFrame hands out a frame that the source will never return
// again. Sources report exhaustion by returning InvalidFrame together with
// an error.
type FrameSource interface {
	AllocFrame() (Frame, *kernel.Error)
}

// FrameSourceFunc adapts a plain function to the FrameSource interface.
type FrameSourceFunc func() (Frame, *kernel.Error)

// AllocFrame implements FrameSource.
func (fn FrameSourceFunc) AllocFrame() (Frame, *kernel.Error) { return fn() }

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// PhysToVirt returns the virtual address through which physAddr can be
// accessed, given the virtual address (physOffset) at which the bootloader
// mapped the whole physical address space.
func PhysToVirt(physOffset, physAddr uintptr) uintptr {
	return physOffset + physAddr
}
