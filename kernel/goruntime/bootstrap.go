// Package goruntime backs the memory allocator of the Go runtime with kernel
// frames so that new, make, maps and interfaces can be used once Init
// returns.
//
// The functions marked with a go:redirect-from directive replace the
// OS-specific memory primitives of the runtime. The redirects tool patches
// the kernel image after linking so that calls to the runtime symbols land
// here.
package goruntime

import (
	"akjoos/kernel"
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/allocator"
	"akjoos/kernel/mm/vmm"
	"unsafe"
)

const (
	// mapFlags are applied to every page handed to the runtime.
	mapFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
)

var (
	mapRangeFn      = vmm.MapRange
	memsetFn        = kernel.Memset
	panicFn         = kfmt.Panic
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit
	procResizeFn    = procResize

	// mapper and frames back the memory handed to the runtime. Both are
	// set by Init.
	mapper vmm.Mapper
	frames mm.FrameSource

	// reserveCursor is the next address handed out by reserveRegion.
	reserveCursor = allocator.RuntimeWindow.Start

	// protectedWindows may never be handed to the runtime.
	protectedWindows = [...]allocator.Window{
		allocator.BootstrapWindow,
		allocator.MainWindow,
		allocator.RuntimeWindow,
	}

	// nanotimeTicks is the value returned by the last call to nanotime1.
	nanotimeTicks int64

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	errMissingFrameSource = &kernel.Error{Module: "goruntime", Message: "no page table or frame source available"}
	errReserveExhausted   = &kernel.Error{Module: "goruntime", Message: "runtime address space exhausted"}
)

// reserveRegion carves a page-aligned region of at least size bytes out of
// allocator.RuntimeWindow.
func reserveRegion(size mm.Size) (uintptr, *kernel.Error) {
	size = (size + mm.Size(mm.PageSize-1)) &^ mm.Size(mm.PageSize-1)
	if uintptr(size) > allocator.RuntimeWindow.End()-reserveCursor {
		return 0, errReserveExhausted
	}

	start := reserveCursor
	reserveCursor += uintptr(size)
	return start, nil
}

// hintUsable returns true if the runtime may use the size bytes at addr as
// requested.
func hintUsable(addr, size uintptr) bool {
	if addr+size < addr {
		return false
	}

	hint := allocator.Window{Start: addr, Size: mm.Size(size)}
	for _, w := range protectedWindows {
		if w.Overlaps(hint) {
			return false
		}
	}
	return true
}

// mapRegion backs the pages covering [start, start+size) with frames and
// zeroes them.
func mapRegion(start uintptr, size mm.Size) *kernel.Error {
	if size == 0 {
		return nil
	}

	if mapper == nil || frames == nil {
		return errMissingFrameSource
	}

	if err := mapRangeFn(mapper, start, size, frames, mapFlags); err != nil {
		return err
	}

	pageStart := start &^ (mm.PageSize - 1)
	pageEnd := (start + uintptr(size) + mm.PageSize - 1) &^ (mm.PageSize - 1)
	memsetFn(pageStart, 0, pageEnd-pageStart)
	return nil
}

// sysReserveOS reserves address space without allocating any memory or
// establishing any page mappings. A non-nil v is a hint which is honored
// unless it overlaps a kernel window; the runtime moves on to its next hint
// when nil is returned.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(v unsafe.Pointer, n uintptr) unsafe.Pointer {
	if v != nil {
		if !hintUsable(uintptr(v), n) {
			return nil
		}
		return v
	}

	regionStartAddr, err := reserveRegion(mm.Size(n))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(regionStartAddr)
}

// sysMapOS backs a region previously obtained via sysReserveOS with zeroed
// frames. The runtime cannot recover from a failure here.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(v unsafe.Pointer, n uintptr) {
	if err := mapRegion(uintptr(v), mm.Size(n)); err != nil {
		panicFn(err)
	}
}

// sysAllocOS reserves enough address space and frames to satisfy the
// allocation request and returns a pointer to the zeroed region or nil.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(n uintptr) unsafe.Pointer {
	regionStartAddr, err := reserveRegion(mm.Size(n))
	if err != nil {
		return nil
	}

	if err = mapRegion(regionStartAddr, mm.Size(n)); err != nil {
		return nil
	}
	return unsafe.Pointer(regionStartAddr)
}

// sysNoopOS replaces the runtime primitives that change the state of memory
// already mapped by sysMapOS or sysAllocOS. Mappings handed to the runtime
// stay in place until the system halts.
//
//go:redirect-from runtime.sysUsedOS
//go:redirect-from runtime.sysUnusedOS
//go:redirect-from runtime.sysFreeOS
//go:redirect-from runtime.sysHugePageOS
//go:redirect-from runtime.sysNoHugePageOS
//go:nosplit
func sysNoopOS(_ unsafe.Pointer, _ uintptr) {}

// nanotime1 returns a monotonically increasing clock value. Until a timer
// is available every call advances the clock by one microsecond.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	nanotimeTicks += 1000
	return nanotimeTicks
}

// getRandomData populates the given slice with random data. The runtime
// reads a random stream from /dev/urandom which is not available here, so a
// prng is used instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. The memory needed by
// the runtime is mapped through pageTable using frames from frameSource.
// After a call to Init the following runtime features become available:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
func Init(pageTable vmm.Mapper, frameSource mm.FrameSource) *kernel.Error {
	if pageTable == nil || frameSource == nil {
		return errMissingFrameSource
	}
	mapper, frames = pageTable, frameSource

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules
	procResizeFn(1)

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	zeroPtr := unsafe.Pointer(uintptr(0))

	sysReserveOS(zeroPtr, 0)
	sysMapOS(zeroPtr, 0)
	sysAllocOS(0)
	sysNoopOS(zeroPtr, 0)
	getRandomData(nil)
	nanotime1()
}
