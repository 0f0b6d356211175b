// Package allocator provides the kernel's dynamic-memory entry point. A
// HeapManager serves allocations from a small bootstrap heap until the main
// heap is activated; the switch happens exactly once and is never undone.
package allocator

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/heap"
	"sync/atomic"
)

// Phase identifies the heap that currently serves allocations.
type Phase uint32

const (
	// PhaseBootstrap routes all traffic to the bootstrap heap.
	PhaseBootstrap Phase = iota

	// PhaseMain routes all traffic to the main heap.
	PhaseMain
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrap:
		return "bootstrap"
	case PhaseMain:
		return "main"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyActivated is returned when trying to activate the main
	// heap a second time or to re-initialize a heap after the switch.
	ErrAlreadyActivated = &kernel.Error{Module: "heap", Message: "main heap already active"}

	// ErrMainHeapNotInitialized is returned when activating a main heap
	// that has not been initialized.
	ErrMainHeapNotInitialized = &kernel.Error{Module: "heap", Message: "main heap not initialized"}
)

// HeapManager owns the bootstrap and main heaps and routes allocations to
// whichever is active. Each heap carries its own lock; the manager itself
// only reads an atomic phase word, so an allocation never waits on the heap
// it is not going to use.
//
// Blocks obtained from the bootstrap heap stay valid forever. Once the main
// heap is active, releasing such a block is accepted but the memory is not
// reused.
type HeapManager struct {
	phase uint32

	bootstrap heap.LockedHeap
	main      heap.LockedHeap

	// ignoredFrees counts bootstrap blocks released after the switch.
	ignoredFrees uint64
}

// Stats describes the state of a HeapManager.
type Stats struct {
	Phase        Phase
	Bootstrap    heap.Stats
	Main         heap.Stats
	IgnoredFrees uint64
}

// InitBootstrap sets up the bootstrap heap over [start, start+size). The
// range must already be mapped.
func (m *HeapManager) InitBootstrap(start uintptr, size mm.Size) *kernel.Error {
	if m.MainActive() {
		return ErrAlreadyActivated
	}
	return m.bootstrap.Init(start, size)
}

// InitMain sets up the main heap over [start, start+size) without
// activating it. The range must already be mapped.
func (m *HeapManager) InitMain(start uintptr, size mm.Size) *kernel.Error {
	if m.MainActive() {
		return ErrAlreadyActivated
	}
	return m.main.Init(start, size)
}

// ActivateMain switches all subsequent allocations to the main heap.
func (m *HeapManager) ActivateMain() *kernel.Error {
	if !m.main.Initialized() {
		return ErrMainHeapNotInitialized
	}

	if !atomic.CompareAndSwapUint32(&m.phase, uint32(PhaseBootstrap), uint32(PhaseMain)) {
		return ErrAlreadyActivated
	}
	return nil
}

// MainActive returns true once ActivateMain has succeeded.
func (m *HeapManager) MainActive() bool {
	return m.Phase() == PhaseMain
}

// Phase returns the current allocation phase.
func (m *HeapManager) Phase() Phase {
	return Phase(atomic.LoadUint32(&m.phase))
}

// Alloc reserves a block from the active heap. Exhaustion of the active heap
// is reported as an error; the other heap is never consulted.
func (m *HeapManager) Alloc(layout heap.Layout) (uintptr, *kernel.Error) {
	if m.MainActive() {
		return m.main.Alloc(layout)
	}
	return m.bootstrap.Alloc(layout)
}

// Dealloc releases a block obtained from Alloc.
func (m *HeapManager) Dealloc(ptr uintptr, layout heap.Layout) *kernel.Error {
	if !m.MainActive() {
		return m.bootstrap.Dealloc(ptr, layout)
	}

	if !m.main.Contains(ptr) && m.bootstrap.Contains(ptr) {
		atomic.AddUint64(&m.ignoredFrees, 1)
		return nil
	}
	return m.main.Dealloc(ptr, layout)
}

// Realloc moves the block at ptr, obtained from Alloc with layout, into a
// new block of newSize bytes with the same alignment. The contents up to the
// smaller of the two sizes are preserved. Blocks from the bootstrap heap are
// moved to the main heap once it is active. On failure the original block is
// left untouched.
func (m *HeapManager) Realloc(ptr uintptr, layout heap.Layout, newSize uintptr) (uintptr, *kernel.Error) {
	newLayout := heap.Layout{Size: newSize, Align: layout.Align}
	newPtr, err := m.Alloc(newLayout)
	if err != nil {
		return 0, err
	}

	copySize := layout.Size
	if newSize < copySize {
		copySize = newSize
	}
	kernel.Memcopy(ptr, newPtr, copySize)

	if err = m.Dealloc(ptr, layout); err != nil {
		_ = m.Dealloc(newPtr, newLayout)
		return 0, err
	}
	return newPtr, nil
}

// Stats returns a snapshot of both heaps.
func (m *HeapManager) Stats() (Stats, *kernel.Error) {
	bootstrapStats, err := m.bootstrap.Stats()
	if err != nil {
		return Stats{}, err
	}

	mainStats, err := m.main.Stats()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Phase:        m.Phase(),
		Bootstrap:    bootstrapStats,
		Main:         mainStats,
		IgnoredFrees: atomic.LoadUint64(&m.ignoredFrees),
	}, nil
}

// storageAlloc adapts Alloc to the signature expected by the frame queue.
func (m *HeapManager) storageAlloc(size, align uintptr) (uintptr, *kernel.Error) {
	return m.Alloc(heap.Layout{Size: size, Align: align})
}

// kernelHeap is the heap manager used by the kernel.
var kernelHeap HeapManager

// Kernel returns the process-wide heap manager.
func Kernel() *HeapManager {
	return &kernelHeap
}

// Alloc reserves a block from the kernel heap manager.
func Alloc(layout heap.Layout) (uintptr, *kernel.Error) {
	return kernelHeap.Alloc(layout)
}

// Realloc resizes a block obtained via Alloc.
func Realloc(ptr uintptr, layout heap.Layout, newSize uintptr) (uintptr, *kernel.Error) {
	return kernelHeap.Realloc(ptr, layout, newSize)
}

// Dealloc releases a block obtained via Alloc.
func Dealloc(ptr uintptr, layout heap.Layout) *kernel.Error {
	return kernelHeap.Dealloc(ptr, layout)
}
