// Package heap implements a first-fit free-list allocator that manages a
// contiguous, already mapped, virtual memory range. The free list is stored
// in-band: every hole starts with a header holding its size and the address
// of the next hole, so the allocator needs no memory besides the range it
// manages.
package heap

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
	"unsafe"
)

const (
	// blockSize is the allocation granularity. It matches the size of a
	// hole header so that any leftover fragment can hold one.
	blockSize = unsafe.Sizeof(hole{})
)

var (
	// ErrInvalidLayout is returned when a layout alignment is zero or not a
	// power of two.
	ErrInvalidLayout = &kernel.Error{Module: "heap", Message: "alignment must be a non-zero power of two"}

	// ErrHeapTooSmall is returned by Init when the supplied range cannot
	// hold a single block.
	ErrHeapTooSmall = &kernel.Error{Module: "heap", Message: "heap range too small"}

	// ErrNotInitialized is returned when using a heap before calling Init.
	ErrNotInitialized = &kernel.Error{Module: "heap", Message: "heap not initialized"}

	// ErrOutOfMemory is returned when no hole can satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrInvalidPointer is returned when freeing a pointer that was not
	// handed out by the heap.
	ErrInvalidPointer = &kernel.Error{Module: "heap", Message: "pointer does not belong to heap"}

	// ErrDoubleFree is returned when freeing a block that overlaps a hole.
	ErrDoubleFree = &kernel.Error{Module: "heap", Message: "block is already free"}
)

// Layout describes the size and alignment of an allocation. The same layout
// must be passed to Dealloc when releasing the allocation.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// Validate checks that the layout alignment is a power of two.
func (l Layout) Validate() *kernel.Error {
	if l.Align == 0 || l.Align&(l.Align-1) != 0 {
		return ErrInvalidLayout
	}
	return nil
}

// reserved returns the number of bytes reserved for the layout. Callers
// must ensure that Size does not exceed the heap size.
func (l Layout) reserved() uintptr {
	size := l.Size
	if size < blockSize {
		size = blockSize
	}
	return alignUp(size, blockSize)
}

// alignment returns the effective alignment used for the layout.
func (l Layout) alignment() uintptr {
	if l.Align < blockSize {
		return blockSize
	}
	return l.Align
}

// hole is the header stored at the start of every free block.
type hole struct {
	size uintptr
	next uintptr
}

func holeAt(addr uintptr) *hole {
	return (*hole)(unsafe.Pointer(addr))
}

// Heap manages the memory range [Bottom(), Top()). The zero value is an
// uninitialized heap; call Init before allocating.
type Heap struct {
	bottom uintptr
	top    uintptr
	used   uintptr

	// head is the address of the lowest hole or 0 if the heap is full.
	head uintptr
}

// Init sets up the heap to manage size bytes starting at start. The range
// must already be mapped and writable. The bounds are trimmed inwards to the
// allocation granularity. Any previous state is discarded.
func (h *Heap) Init(start uintptr, size mm.Size) *kernel.Error {
	bottom := alignUp(start, blockSize)
	top := alignDown(start+uintptr(size), blockSize)
	if start+uintptr(size) < start || top <= bottom {
		return ErrHeapTooSmall
	}

	h.bottom, h.top, h.used = bottom, top, 0
	h.head = bottom
	*holeAt(bottom) = hole{size: top - bottom}
	return nil
}

// Alloc reserves a block matching the layout and returns its address. The
// lowest addressed hole that fits is used; whatever part of it the block
// does not cover stays in the free list.
func (h *Heap) Alloc(layout Layout) (uintptr, *kernel.Error) {
	if err := layout.Validate(); err != nil {
		return 0, err
	}

	if h.top == 0 {
		return 0, ErrNotInitialized
	}

	// Requests larger than the managed range can never be satisfied and
	// would overflow the block size computation.
	if layout.Size > h.top-h.bottom {
		return 0, ErrOutOfMemory
	}

	var (
		size  = layout.reserved()
		align = layout.alignment()
		prev  uintptr
	)

	for cur := h.head; cur != 0; prev, cur = cur, holeAt(cur).next {
		curHole := *holeAt(cur)

		blockStart := alignUp(cur, align)
		blockEnd := blockStart + size
		if blockStart < cur || blockEnd < blockStart || blockEnd > cur+curHole.size {
			continue
		}

		// Split the hole into an optional front padding hole and an
		// optional tail hole and splice them in its place.
		next := curHole.next
		if tail := cur + curHole.size - blockEnd; tail != 0 {
			*holeAt(blockEnd) = hole{size: tail, next: next}
			next = blockEnd
		}

		if front := blockStart - cur; front != 0 {
			*holeAt(cur) = hole{size: front, next: next}
			next = cur
		}

		h.link(prev, next)
		h.used += size
		return blockStart, nil
	}

	return 0, ErrOutOfMemory
}

// Dealloc returns the block at ptr, previously obtained by calling Alloc
// with the same layout, to the free list and merges it with adjacent holes.
func (h *Heap) Dealloc(ptr uintptr, layout Layout) *kernel.Error {
	if err := layout.Validate(); err != nil {
		return err
	}

	if h.top == 0 {
		return ErrNotInitialized
	}

	if layout.Size > h.top-h.bottom {
		return ErrInvalidPointer
	}

	size := layout.reserved()
	if !h.Contains(ptr) || ptr&(blockSize-1) != 0 || size > h.top-ptr {
		return ErrInvalidPointer
	}

	// Locate the holes surrounding the block
	prev, next := uintptr(0), h.head
	for next != 0 && next < ptr {
		prev, next = next, holeAt(next).next
	}

	if (prev != 0 && prev+holeAt(prev).size > ptr) || (next != 0 && ptr+size > next) {
		return ErrDoubleFree
	}

	block := hole{size: size, next: next}
	if next != 0 && ptr+size == next {
		block.size += holeAt(next).size
		block.next = holeAt(next).next
	}

	if prev != 0 && prev+holeAt(prev).size == ptr {
		holeAt(prev).size += block.size
		holeAt(prev).next = block.next
	} else {
		*holeAt(ptr) = block
		h.link(prev, ptr)
	}

	h.used -= size
	return nil
}

// link points the hole at prev (or the list head if prev is 0) to next.
func (h *Heap) link(prev, next uintptr) {
	if prev == 0 {
		h.head = next
		return
	}
	holeAt(prev).next = next
}

// Contains returns true if ptr falls inside the managed range.
func (h *Heap) Contains(ptr uintptr) bool {
	return ptr >= h.bottom && ptr < h.top
}

// Bottom returns the first address managed by the heap.
func (h *Heap) Bottom() uintptr { return h.bottom }

// Top returns the address just past the managed range.
func (h *Heap) Top() uintptr { return h.top }

// Size returns the number of bytes managed by the heap.
func (h *Heap) Size() mm.Size { return mm.Size(h.top - h.bottom) }

// Used returns the number of bytes currently handed out.
func (h *Heap) Used() mm.Size { return mm.Size(h.used) }

// Free returns the number of bytes available for allocation. Fragmentation
// may prevent a single allocation of that size from succeeding.
func (h *Heap) Free() mm.Size { return h.Size() - h.Used() }

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

func alignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}
