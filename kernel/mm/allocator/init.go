package allocator

import (
	"akjoos/kernel"
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/pmm"
	"akjoos/kernel/mm/vmm"
)

const (
	// defaultHeapFlags are applied to heap pages when BootConfig.Flags is
	// not set.
	defaultHeapFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible
)

var (
	// activePageTableFn is used by tests to avoid reading CR3.
	activePageTableFn = func(physOffset uintptr) vmm.Mapper {
		return vmm.ActivePageTable(physOffset)
	}

	errWindowsOverlap = &kernel.Error{Module: "heap", Message: "heap windows overlap"}
)

// BootConfig describes the inputs of the heap bootstrap sequence. Zero
// valued fields fall back to the kernel defaults.
type BootConfig struct {
	// PhysOffset is the virtual address at which all of physical memory
	// is mapped.
	PhysOffset uintptr

	// Regions is the firmware memory map.
	Regions []mm.MemoryRegion

	// Mapper installs the heap mappings. Defaults to the active page
	// table.
	Mapper vmm.Mapper

	// Bootstrap and Main default to BootstrapWindow and MainWindow.
	Bootstrap Window
	Main      Window

	// Flags defaults to Present|RW|UserAccessible.
	Flags vmm.PageTableEntryFlag
}

func (cfg *BootConfig) setDefaults() {
	if cfg.Mapper == nil {
		cfg.Mapper = activePageTableFn(cfg.PhysOffset)
	}
	if cfg.Bootstrap.Size == 0 {
		cfg.Bootstrap = BootstrapWindow
	}
	if cfg.Main.Size == 0 {
		cfg.Main = MainWindow
	}
	if cfg.Flags == 0 {
		cfg.Flags = defaultHeapFlags
	}
}

// BootReport summarizes the frame usage of the bootstrap sequence.
type BootReport struct {
	// UsableFrames is the number of frames the memory map provides.
	UsableFrames uint64

	// BootstrapCursor is the number of frames issued once the bootstrap
	// window was mapped.
	BootstrapCursor uint64

	// QueuedFrames is the number of frames placed in the frame queue.
	QueuedFrames uint64

	// MainCursor is the number of frames issued once the main window was
	// mapped.
	MainCursor uint64

	// Mapper is the page table the heap windows were mapped with.
	Mapper vmm.Mapper

	// Frames serves the frames left in the queue after the main window
	// was mapped. Its storage lives in the bootstrap heap.
	Frames mm.FrameSource
}

// Init brings up the kernel heap in the following order:
//  1. create a frame source that re-scans the memory map per frame
//  2. back the bootstrap window with frames from that source
//  3. initialize the bootstrap heap
//  4. serve allocations from the bootstrap heap
//  5. queue the remaining frames in memory obtained from the bootstrap heap
//  6. back the main window with frames from the queue
//  7. initialize the main heap
//  8. switch allocations to the main heap
//
// Any failure is logged together with the phase that caused it and the
// error is returned to the caller; the sequence cannot be resumed.
func Init(m *HeapManager, cfg BootConfig) (BootReport, *kernel.Error) {
	var report BootReport

	cfg.setDefaults()
	if cfg.Bootstrap.Overlaps(cfg.Main) {
		return report, phaseFailed("validate heap windows", errWindowsOverlap)
	}

	report.UsableFrames = pmm.CountUsableFrames(cfg.Regions, 0)
	kfmt.Printf("[heap] usable frames: %d\n", report.UsableFrames)

	bootFrames := pmm.NewBootMemAllocator(cfg.Regions)
	if err := vmm.MapRange(cfg.Mapper, cfg.Bootstrap.Start, cfg.Bootstrap.Size, bootFrames, cfg.Flags); err != nil {
		return report, phaseFailed("map bootstrap heap", err)
	}
	report.BootstrapCursor = bootFrames.AllocCount()
	logWindow("bootstrap", cfg.Bootstrap, report.BootstrapCursor)

	if err := m.InitBootstrap(cfg.Bootstrap.Start, cfg.Bootstrap.Size); err != nil {
		return report, phaseFailed("init bootstrap heap", err)
	}
	kfmt.Printf("[heap] allocations served by the bootstrap heap\n")

	queuedFrames, err := pmm.NewQueuedAllocator(cfg.Regions, bootFrames.AllocCount(), m.storageAlloc)
	if err != nil {
		return report, phaseFailed("build frame queue", err)
	}
	report.QueuedFrames = uint64(queuedFrames.Remaining())

	if err := vmm.MapRange(cfg.Mapper, cfg.Main.Start, cfg.Main.Size, queuedFrames, cfg.Flags); err != nil {
		return report, phaseFailed("map main heap", err)
	}
	report.MainCursor = queuedFrames.AllocCount()
	report.Mapper, report.Frames = cfg.Mapper, queuedFrames
	logWindow("main", cfg.Main, report.MainCursor)

	if err := m.InitMain(cfg.Main.Start, cfg.Main.Size); err != nil {
		return report, phaseFailed("init main heap", err)
	}

	if err := m.ActivateMain(); err != nil {
		return report, phaseFailed("activate main heap", err)
	}
	kfmt.Printf("[heap] allocations served by the main heap\n")

	return report, nil
}

func logWindow(name string, w Window, cursor uint64) {
	kfmt.Printf("[heap] %s heap: [0x%x - 0x%x], size: %dKb, frames issued: %d\n",
		name, w.Start, w.End(), uint64(w.Size/mm.Kb), cursor,
	)
}

func phaseFailed(phase string, err *kernel.Error) *kernel.Error {
	kfmt.Printf("[heap] %s failed: %s\n", phase, err.Message)
	return err
}
