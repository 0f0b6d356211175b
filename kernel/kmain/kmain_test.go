package kmain

import (
	"akjoos/kernel"
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/allocator"
	"akjoos/kernel/mm/vmm"
	"akjoos/multiboot"
	"bytes"
	"runtime"
	"strings"
	"testing"
	"unsafe"
)

var testRegions = []mm.MemoryRegion{
	{Start: 0x0, End: 0x9f000, Kind: mm.RegionUsable},
	{Start: 0x9f000, End: 0x100000, Kind: mm.RegionReserved},
	{Start: 0x100000, End: 0x200000, Kind: mm.RegionUsable},
}

// testFrames is handed out by the mocked heap init as the remaining frame
// queue.
var testFrames = mm.FrameSourceFunc(func() (mm.Frame, *kernel.Error) {
	return mm.InvalidFrame, vmm.ErrFrameAllocationFailed
})

type testMapper struct{ vmm.Mapper }

func runKmain(t *testing.T, cmdLine string, initErr, runtimeErr *kernel.Error) (allocator.BootConfig, interface{}, string) {
	defer func(origInit func(*allocator.HeapManager, allocator.BootConfig) (allocator.BootReport, *kernel.Error), origRuntimeInit func(vmm.Mapper, mm.FrameSource) *kernel.Error, origPanic func(interface{})) {
		initHeapFn = origInit
		goruntimeInitFn = origRuntimeInit
		panicFn = origPanic
		kfmt.SetOutputSink(nil)
		multiboot.SetInfoPtr(0)
	}(initHeapFn, goruntimeInitFn, panicFn)

	var (
		cfg      allocator.BootConfig
		panicArg interface{}
		logBuf   bytes.Buffer
	)

	kfmt.SetOutputSink(&logBuf)
	logBuf.Reset()

	initHeapFn = func(m *allocator.HeapManager, c allocator.BootConfig) (allocator.BootReport, *kernel.Error) {
		if m != allocator.Kernel() {
			t.Error("expected Kmain to initialize the kernel heap manager")
		}
		cfg = c
		return allocator.BootReport{UsableFrames: 415, MainCursor: 100, Mapper: testMapper{}, Frames: testFrames}, initErr
	}
	goruntimeInitFn = func(m vmm.Mapper, frames mm.FrameSource) *kernel.Error {
		if m != vmm.Mapper(testMapper{}) || frames == nil {
			t.Error("expected the Go runtime to receive the heap page table and frame queue")
		}
		return runtimeErr
	}
	panicFn = func(e interface{}) {
		panicArg = e
	}

	info := multiboot.BuildInfo(testRegions, cmdLine)
	Kmain(uintptr(unsafe.Pointer(&info[0])), 0xffff_8000_0000_0000)
	runtime.KeepAlive(info)

	return cfg, panicArg, logBuf.String()
}

func TestKmain(t *testing.T) {
	cfg, panicArg, out := runKmain(t, "", nil, nil)

	if exp := uintptr(0xffff_8000_0000_0000); cfg.PhysOffset != exp {
		t.Errorf("expected physical memory offset 0x%x; got 0x%x", exp, cfg.PhysOffset)
	}

	if len(cfg.Regions) != len(testRegions) {
		t.Fatalf("expected %d memory regions; got %d", len(testRegions), len(cfg.Regions))
	}
	for i, region := range cfg.Regions {
		if region != testRegions[i] {
			t.Errorf("[region %d] expected %+v; got %+v", i, testRegions[i], region)
		}
	}

	if cfg.Mapper != nil || cfg.Flags != 0 {
		t.Error("expected Kmain to rely on the default mapper and flags")
	}

	if panicArg != errKmainReturned {
		t.Fatalf("expected Kmain to panic with errKmainReturned; got %v", panicArg)
	}

	if exp := "[kmain] heap ready; 100 of 415 usable frames in use\n"; !strings.Contains(out, exp) {
		t.Errorf("expected output to contain %q; got:\n%s", exp, out)
	}
	if exp := "[kmain] go runtime ready; boot options: 0\n"; !strings.Contains(out, exp) {
		t.Errorf("expected output to contain %q; got:\n%s", exp, out)
	}
	if strings.Contains(out, "[pmm] system memory map") {
		t.Error("expected memory map not to be printed without the memdebug flag")
	}
}

func TestKmainMemDebug(t *testing.T) {
	_, _, out := runKmain(t, "memdebug console=serial", nil, nil)

	for _, exp := range []string{
		"[pmm] usable frames: 415\n",
		"[kmain] go runtime ready; boot options: 2\n",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, out)
		}
	}
}

func TestKmainHeapInitError(t *testing.T) {
	_, panicArg, out := runKmain(t, "", vmm.ErrFrameAllocationFailed, nil)

	if panicArg != vmm.ErrFrameAllocationFailed {
		t.Fatalf("expected Kmain to panic with the heap init error; got %v", panicArg)
	}

	if strings.Contains(out, "heap ready") {
		t.Error("expected no heap ready message after a failed init")
	}
}

func TestKmainGoRuntimeInitError(t *testing.T) {
	errRuntime := &kernel.Error{Module: "goruntime", Message: "runtime address space exhausted"}
	_, panicArg, out := runKmain(t, "", nil, errRuntime)

	if panicArg != errRuntime {
		t.Fatalf("expected Kmain to panic with the runtime init error; got %v", panicArg)
	}

	if !strings.Contains(out, "heap ready") || strings.Contains(out, "go runtime ready") {
		t.Errorf("expected the heap to be reported ready but not the Go runtime; got:\n%s", out)
	}
}
