package heap

import (
	"akjoos/kernel"
	"akjoos/kernel/irq"
	"akjoos/kernel/mm"
	"akjoos/kernel/sync"
)

var (
	// ErrReentrantAccess is returned when the heap is entered again from
	// the context that already holds its lock, e.g. by an interrupt
	// handler that fires while an allocation is in progress.
	ErrReentrantAccess = &kernel.Error{Module: "heap", Message: "reentrant heap access"}
)

// Stats is a snapshot of a heap's bounds and usage.
type Stats struct {
	Bottom uintptr
	Top    uintptr
	Size   mm.Size
	Used   mm.Size
	Free   mm.Size
}

// LockedHeap is a Heap guarded by a spinlock. Interrupts are masked for as
// long as the lock is held so an interrupt handler can never observe the
// free list in an inconsistent state.
type LockedHeap struct {
	lock sync.Spinlock
	heap Heap
}

// acquire masks interrupts and grabs the heap lock. If the lock is taken
// while interrupts were already masked on entry, the holder is the current
// context and waiting would never terminate.
func (h *LockedHeap) acquire() (irq.State, *kernel.Error) {
	state := irq.Disable()
	if h.lock.TryToAcquire() {
		return state, nil
	}

	if !state.WasEnabled() {
		state.Restore()
		return state, ErrReentrantAccess
	}

	h.lock.Acquire()
	return state, nil
}

func (h *LockedHeap) release(state irq.State) {
	h.lock.Release()
	state.Restore()
}

// Init sets up the underlying heap to manage [start, start+size).
func (h *LockedHeap) Init(start uintptr, size mm.Size) *kernel.Error {
	state, err := h.acquire()
	if err != nil {
		return err
	}
	defer h.release(state)

	return h.heap.Init(start, size)
}

// Alloc reserves a block matching the layout.
func (h *LockedHeap) Alloc(layout Layout) (uintptr, *kernel.Error) {
	state, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer h.release(state)

	return h.heap.Alloc(layout)
}

// Dealloc releases a block previously returned by Alloc.
func (h *LockedHeap) Dealloc(ptr uintptr, layout Layout) *kernel.Error {
	state, err := h.acquire()
	if err != nil {
		return err
	}
	defer h.release(state)

	return h.heap.Dealloc(ptr, layout)
}

// Contains returns true if ptr falls inside the managed range. The bounds
// only change during Init so no locking is required.
func (h *LockedHeap) Contains(ptr uintptr) bool {
	return h.heap.Contains(ptr)
}

// Initialized returns true once Init has succeeded.
func (h *LockedHeap) Initialized() bool {
	return h.heap.top != 0
}

// Stats returns a snapshot of the heap usage.
func (h *LockedHeap) Stats() (Stats, *kernel.Error) {
	state, err := h.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer h.release(state)

	return Stats{
		Bottom: h.heap.Bottom(),
		Top:    h.heap.Top(),
		Size:   h.heap.Size(),
		Used:   h.heap.Used(),
		Free:   h.heap.Free(),
	}, nil
}
