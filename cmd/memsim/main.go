// Command memsim runs the kernel heap bootstrap sequence as a regular
// process. Simulated physical memory and both heap windows are backed by
// anonymous mappings, the memory map reaches the kernel through a synthetic
// multiboot info structure and privileged CPU instructions are replaced by
// software equivalents.
package main

import (
	"flag"
	"io"
	"os"
	"runtime"
	"sort"
	"unsafe"

	"akjoos/kernel"
	"akjoos/kernel/irq"
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/allocator"
	"akjoos/kernel/mm/heap"
	"akjoos/kernel/mm/pmm"
	"akjoos/kernel/mm/vmm"
	"akjoos/multiboot"

	"golang.org/x/sys/unix"
)

var (
	errMemTooSmall = &kernel.Error{Module: "memsim", Message: "simulated memory must be at least 2Mb"}
	errMmap        = &kernel.Error{Module: "memsim", Message: "mmap failed"}
)

type options struct {
	memSize       mm.Size
	bootstrapSize mm.Size
	mainSize      mm.Size
	allocs        int
	cmdLine       string
}

// mapping is an anonymous memory mapping.
type mapping []byte

func mmapAnon(size mm.Size) (mapping, *kernel.Error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		kfmt.Printf("[memsim] mmap of %d bytes failed: %s\n", uint64(size), err.Error())
		return nil, errMmap
	}
	return mapping(data), nil
}

func (m mapping) addr() uintptr {
	return uintptr(unsafe.Pointer(&m[0]))
}

func (m mapping) release() {
	_ = unix.Munmap(m)
}

// simulatedMemoryMap describes a PC-like layout: the first frame holds the
// top-level page directory, the legacy video hole is reserved and the top
// 64Kb hold ACPI tables.
func simulatedMemoryMap(memSize mm.Size) []mm.MemoryRegion {
	end := uintptr(memSize)
	return []mm.MemoryRegion{
		{Start: 0x0, End: 0x1000, Kind: mm.RegionReserved},
		{Start: 0x1000, End: 0x9f000, Kind: mm.RegionUsable},
		{Start: 0x9f000, End: 0x100000, Kind: mm.RegionReserved},
		{Start: 0x100000, End: end - 0x10000, Kind: mm.RegionUsable},
		{Start: end - 0x10000, End: end, Kind: mm.RegionAcpiReclaimable},
	}
}

func run(opts options) *kernel.Error {
	if opts.memSize < 2*mm.Mb {
		return errMemTooSmall
	}

	irq.SetController(&irq.SoftController{})
	defer irq.SetController(nil)

	phys, err := mmapAnon(opts.memSize)
	if err != nil {
		return err
	}
	defer phys.release()

	info := multiboot.BuildInfo(simulatedMemoryMap(opts.memSize), opts.cmdLine)
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
	defer multiboot.SetInfoPtr(0)

	var regions []mm.MemoryRegion
	multiboot.VisitMemRegions(func(region mm.MemoryRegion) bool {
		regions = append(regions, region)
		return true
	})

	if multiboot.HasBootFlag("memdebug") {
		pmm.PrintMemoryMap(regions)
	}
	printBootOptions(multiboot.GetBootCmdLine())
	runtime.KeepAlive(info)

	bootstrapWin, err := mmapAnon(opts.bootstrapSize)
	if err != nil {
		return err
	}
	defer bootstrapWin.release()

	mainWin, err := mmapAnon(opts.mainSize)
	if err != nil {
		return err
	}
	defer mainWin.release()

	pageTable := vmm.NewOffsetPageTable(mm.Frame(0), phys.addr()).WithTLBFlush(func(uintptr) {})

	// Each run gets its own manager as the windows are unmapped on return.
	heapManager := new(allocator.HeapManager)
	report, err := allocator.Init(heapManager, allocator.BootConfig{
		PhysOffset: phys.addr(),
		Regions:    regions,
		Mapper:     pageTable,
		Bootstrap:  allocator.Window{Start: bootstrapWin.addr(), Size: opts.bootstrapSize},
		Main:       allocator.Window{Start: mainWin.addr(), Size: opts.mainSize},
	})
	if err != nil {
		return err
	}

	kfmt.Printf("[memsim] frames: %d usable, %d after bootstrap heap, %d queued, %d after main heap\n",
		report.UsableFrames, report.BootstrapCursor, report.QueuedFrames, report.MainCursor,
	)

	if err = exerciseHeap(heapManager, opts.allocs); err != nil {
		return err
	}

	stats, err := heapManager.Stats()
	if err != nil {
		return err
	}

	kfmt.Printf("[memsim] phase: %s, ignored bootstrap frees: %d\n", stats.Phase.String(), stats.IgnoredFrees)
	printHeapStats("bootstrap", stats.Bootstrap)
	printHeapStats("main", stats.Main)
	return nil
}

// exerciseHeap allocates count blocks of varying size through m, fills them,
// grows every third block, verifies their contents and releases every other
// block.
func exerciseHeap(m *allocator.HeapManager, count int) *kernel.Error {
	type block struct {
		ptr    uintptr
		layout heap.Layout
	}

	blocks := make([]block, 0, count)
	for i := 0; i < count; i++ {
		layout := heap.Layout{Size: uintptr(16 + (i*97)%4000), Align: uintptr(8) << uint(i%4)}

		ptr, err := m.Alloc(layout)
		if err != nil {
			return err
		}
		kernel.Memset(ptr, byte(i), layout.Size)

		if i%3 == 0 {
			if ptr, err = m.Realloc(ptr, layout, 2*layout.Size); err != nil {
				return err
			}
			kernel.Memset(ptr+layout.Size, byte(i), layout.Size)
			layout.Size *= 2
		}

		blocks = append(blocks, block{ptr, layout})
	}

	for i, b := range blocks {
		data := unsafe.Slice((*byte)(unsafe.Pointer(b.ptr)), b.layout.Size)
		if data[0] != byte(i) || data[len(data)-1] != byte(i) {
			kfmt.Printf("[memsim] block %d at 0x%x was corrupted\n", i, b.ptr)
		}

		if i%2 == 0 {
			if err := m.Dealloc(b.ptr, b.layout); err != nil {
				return err
			}
		}
	}

	return nil
}

// printBootOptions logs the parsed kernel command line in key order.
func printBootOptions(opts map[string]string) {
	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		kfmt.Printf("[memsim] boot option %s=%s\n", key, opts[key])
	}
}

func printHeapStats(name string, stats heap.Stats) {
	kfmt.Printf("[memsim] %s heap: [0x%x - 0x%x], used: %d bytes, free: %d bytes\n",
		name, stats.Bottom, stats.Top, uint64(stats.Used), uint64(stats.Free),
	)
}

func parseOptions(args []string, errOut io.Writer) (options, error) {
	fs := flag.NewFlagSet("memsim", flag.ContinueOnError)
	fs.SetOutput(errOut)

	memMb := fs.Uint64("mem", 128, "size of the simulated physical memory in Mb")
	bootstrapKb := fs.Uint64("bootstrap", uint64(allocator.BootstrapWindow.Size/mm.Kb), "bootstrap heap size in Kb")
	mainKb := fs.Uint64("main", uint64(allocator.MainWindow.Size/mm.Kb), "main heap size in Kb")
	allocs := fs.Int("allocs", 1000, "number of allocations to perform after the heap switch")
	cmdLine := fs.String("cmdline", "memdebug", "kernel command line passed through the multiboot info")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	return options{
		memSize:       mm.Size(*memMb) * mm.Mb,
		bootstrapSize: mm.Size(*bootstrapKb) * mm.Kb,
		mainSize:      mm.Size(*mainKb) * mm.Kb,
		allocs:        *allocs,
		cmdLine:       *cmdLine,
	}, nil
}

func main() {
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stdout, Prefix: []byte("memsim | ")})

	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		kfmt.Printf("[%s] %s\n", err.Module, err.Message)
		os.Exit(1)
	}
}
