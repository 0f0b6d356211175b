package pmm

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
	"unsafe"
)

// StorageAllocFn reserves size bytes aligned to align and returns the
// address of the reserved block.
type StorageAllocFn func(size, align uintptr) (uintptr, *kernel.Error)

var (
	errNoStorage = &kernel.Error{Module: "pmm", Message: "no storage allocator supplied for the frame queue"}
)

// QueuedAllocator serves frames from a queue that is populated once, at
// construction time, with every usable frame that a previous allocator has
// not already issued. Allocations pop the queue head in O(1).
//
// The queue lives in memory obtained from a StorageAllocFn, normally the
// bootstrap heap, which is why this allocator can only be created after a
// heap is available.
type QueuedAllocator struct {
	frames []mm.Frame
	head   int

	// allocCount tracks the total number of frames issued, including the
	// ones skipped at construction time.
	allocCount uint64
}

// NewQueuedAllocator scans the memory map once, skipping the first skip
// usable frames, and stores the remaining frames in a queue backed by memory
// reserved via storage.
func NewQueuedAllocator(regions []mm.MemoryRegion, skip uint64, storage StorageAllocFn) (*QueuedAllocator, *kernel.Error) {
	alloc := &QueuedAllocator{allocCount: skip}

	count := CountUsableFrames(regions, skip)
	if count == 0 {
		return alloc, nil
	}

	if storage == nil {
		return nil, errNoStorage
	}

	var frame mm.Frame
	queueAddr, err := storage(uintptr(count)*unsafe.Sizeof(frame), unsafe.Alignof(frame))
	if err != nil {
		return nil, err
	}

	alloc.frames = unsafe.Slice((*mm.Frame)(unsafe.Pointer(queueAddr)), count)

	index := 0
	VisitUsableFrames(regions, skip, func(f mm.Frame) bool {
		alloc.frames[index] = f
		index++
		return true
	})

	return alloc, nil
}

// AllocFrame pops the next frame off the queue. It returns ErrOutOfMemory
// once the queue is empty.
func (alloc *QueuedAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.head == len(alloc.frames) {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	frame := alloc.frames[alloc.head]
	alloc.head++
	alloc.allocCount++
	return frame, nil
}

// AllocCount returns the number of frames issued by this allocator and by
// the allocator it continued from.
func (alloc *QueuedAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// Remaining returns the number of frames still in the queue.
func (alloc *QueuedAllocator) Remaining() int {
	return len(alloc.frames) - alloc.head
}
