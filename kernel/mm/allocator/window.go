package allocator

import "akjoos/kernel/mm"

// Window is a fixed virtual address range reserved for a heap.
type Window struct {
	Start uintptr
	Size  mm.Size
}

var (
	// BootstrapWindow hosts the small heap that serves allocations while
	// the frame queue is being built.
	BootstrapWindow = Window{Start: 0x1111_1111_0000, Size: 2 * mm.Mb}

	// MainWindow hosts the heap that serves all allocations after the
	// switchover.
	MainWindow = Window{Start: 0x4444_4444_0000, Size: 64 * mm.Mb}

	// RuntimeWindow is the address space handed out to the Go runtime
	// when it reserves memory without asking for a specific address.
	RuntimeWindow = Window{Start: 0x6666_0000_0000, Size: 256 * mm.Gb}
)

// End returns the address just past the window.
func (w Window) End() uintptr {
	return w.Start + uintptr(w.Size)
}

// Contains returns true if addr falls inside the window.
func (w Window) Contains(addr uintptr) bool {
	return addr >= w.Start && addr < w.End()
}

// Overlaps returns true if both windows share at least one byte.
func (w Window) Overlaps(other Window) bool {
	if w.Size == 0 || other.Size == 0 {
		return false
	}
	return w.Start < other.End() && other.Start < w.End()
}
