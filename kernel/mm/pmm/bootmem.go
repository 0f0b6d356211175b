package pmm

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
)

// BootMemAllocator implements a rudimentary physical memory allocator which
// is used to bootstrap the kernel heap.
//
// The allocator keeps no collection of free frames as there is no heap to
// store one in. Instead, every allocation re-scans the memory map supplied by
// the bootloader and skips the frames that have already been handed out;
// allocCount is the only state. This makes each allocation O(n) in the
// number of frames issued so far which is acceptable for the small number of
// frames needed to back the bootstrap heap.
//
// Allocated frames cannot be freed.
type BootMemAllocator struct {
	regions []mm.MemoryRegion

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// NewBootMemAllocator returns a BootMemAllocator that serves frames from the
// usable regions of the supplied memory map.
func NewBootMemAllocator(regions []mm.MemoryRegion) *BootMemAllocator {
	return &BootMemAllocator{regions: regions}
}

// AllocFrame reserves the next available free frame. It returns
// ErrOutOfMemory if no usable frames are left; failed calls do not advance
// the allocator.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	frame, ok := FirstUsableFrame(alloc.regions, alloc.allocCount)
	if !ok {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	alloc.allocCount++
	return frame, nil
}

// AllocCount returns the number of frames handed out so far. A source that
// continues where this allocator stopped must skip this many frames.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}
