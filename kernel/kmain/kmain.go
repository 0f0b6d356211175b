package kmain

import (
	"akjoos/kernel"
	"akjoos/kernel/goruntime"
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/allocator"
	"akjoos/kernel/mm/pmm"
	"akjoos/multiboot"
)

// maxMemRegions bounds the number of memory map entries the kernel keeps.
const maxMemRegions = 128

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// memRegions holds a copy of the bootloader memory map. It is
	// statically allocated as no heap exists when it is populated.
	memRegions [maxMemRegions]mm.MemoryRegion

	// The following functions are mocked by tests.
	initHeapFn      = allocator.Init
	goruntimeInitFn = goruntime.Init
	panicFn         = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader and the virtual address at which the bootloader mapped all of
// physical memory.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	regions := collectMemRegions()
	if multiboot.HasBootFlag("memdebug") {
		pmm.PrintMemoryMap(regions)
	}

	report, err := initHeapFn(allocator.Kernel(), allocator.BootConfig{
		PhysOffset: physOffset,
		Regions:    regions,
	})
	if err != nil {
		panicFn(err)
		return
	}

	kfmt.Printf("[kmain] heap ready; %d of %d usable frames in use\n", report.MainCursor, report.UsableFrames)

	// The Go runtime takes over the frames left in the queue.
	if err = goruntimeInitFn(report.Mapper, report.Frames); err != nil {
		panicFn(err)
		return
	}
	kfmt.Printf("[kmain] go runtime ready; boot options: %d\n", len(multiboot.GetBootCmdLine()))

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// collectMemRegions copies the bootloader memory map into memRegions.
// Entries beyond maxMemRegions are dropped.
func collectMemRegions() []mm.MemoryRegion {
	count := 0
	multiboot.VisitMemRegions(func(region mm.MemoryRegion) bool {
		if count == maxMemRegions {
			kfmt.Printf("[kmain] memory map truncated to %d entries\n", maxMemRegions)
			return false
		}

		memRegions[count] = region
		count++
		return true
	})

	return memRegions[:count]
}
