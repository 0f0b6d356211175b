package main

import (
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
	"akjoos/kernel/mm/allocator"
	"akjoos/kernel/mm/vmm"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-mem", "32", "-bootstrap", "512", "-main", "4096", "-allocs", "10", "-cmdline", ""}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	exp := options{
		memSize:       32 * mm.Mb,
		bootstrapSize: 512 * mm.Kb,
		mainSize:      4 * mm.Mb,
		allocs:        10,
	}
	if opts != exp {
		t.Fatalf("expected options %+v; got %+v", exp, opts)
	}

	defaults, err := parseOptions(nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if defaults.bootstrapSize != allocator.BootstrapWindow.Size || defaults.mainSize != allocator.MainWindow.Size {
		t.Fatalf("expected heap sizes to default to the kernel windows; got %+v", defaults)
	}

	if _, err := parseOptions([]string{"-mem", "lots"}, io.Discard); err == nil {
		t.Fatal("expected an invalid flag value to be rejected")
	}
}

func TestSimulatedMemoryMap(t *testing.T) {
	regions := simulatedMemoryMap(4 * mm.Mb)

	var usable mm.Size
	for i, region := range regions {
		if i > 0 && region.Start != regions[i-1].End {
			t.Fatalf("expected region %d to start where the previous one ends", i)
		}
		if region.IsUsable() {
			usable += region.Size()
		}
	}

	if regions[0].IsUsable() {
		t.Fatal("expected the first frame to be reserved for the page directory")
	}
	if exp := 4*mm.Mb - 0x1000 - 0x61000 - 0x10000; usable != exp {
		t.Fatalf("expected %d usable bytes; got %d", exp, usable)
	}
}

func TestRun(t *testing.T) {
	var out bytes.Buffer
	kfmt.SetOutputSink(&out)
	defer kfmt.SetOutputSink(nil)

	err := run(options{
		memSize:       16 * mm.Mb,
		bootstrapSize: 256 * mm.Kb,
		mainSize:      4 * mm.Mb,
		allocs:        200,
		cmdLine:       "memdebug",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput:\n%s", err, out.String())
	}

	for _, line := range []string{
		"[pmm] system memory map:\n",
		"[memsim] boot option memdebug=memdebug\n",
		"[heap] allocations served by the main heap\n",
		"[memsim] phase: main, ignored bootstrap frees: 0\n",
		"[memsim] main heap: [0x",
	} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("expected output to contain %q; got:\n%s", line, out.String())
		}
	}

	if strings.Contains(out.String(), "corrupted") {
		t.Errorf("expected heap blocks to keep their contents; got:\n%s", out.String())
	}
}

func TestRunRepeated(t *testing.T) {
	var out bytes.Buffer
	kfmt.SetOutputSink(&out)
	defer kfmt.SetOutputSink(nil)

	opts := options{
		memSize:       8 * mm.Mb,
		bootstrapSize: 128 * mm.Kb,
		mainSize:      2 * mm.Mb,
		allocs:        50,
		cmdLine:       "verbose heap=main",
	}

	for i := 0; i < 3; i++ {
		out.Reset()
		if err := run(opts); err != nil {
			t.Fatalf("[run %d] unexpected error: %v\noutput:\n%s", i, err, out.String())
		}

		for _, line := range []string{
			"[memsim] boot option heap=main\n",
			"[memsim] boot option verbose=verbose\n",
			"[memsim] phase: main, ignored bootstrap frees: 0\n",
		} {
			if !strings.Contains(out.String(), line) {
				t.Errorf("[run %d] expected output to contain %q; got:\n%s", i, line, out.String())
			}
		}
	}

	// Every run uses its own heap manager
	if allocator.Kernel().MainActive() {
		t.Fatal("expected the kernel heap manager to be left untouched")
	}
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	kfmt.SetOutputSink(&out)
	defer kfmt.SetOutputSink(nil)

	if err := run(options{memSize: mm.Mb}); err != errMemTooSmall {
		t.Fatalf("expected to get errMemTooSmall; got %v", err)
	}

	// 2Mb of simulated memory cannot back a 4Mb bootstrap heap
	err := run(options{
		memSize:       2 * mm.Mb,
		bootstrapSize: 4 * mm.Mb,
		mainSize:      4 * mm.Mb,
	})
	if err != vmm.ErrFrameAllocationFailed {
		t.Fatalf("expected to get ErrFrameAllocationFailed; got %v", err)
	}

	if exp := "[heap] map bootstrap heap failed: frame allocation failed\n"; !strings.Contains(out.String(), exp) {
		t.Fatalf("expected output to contain %q; got:\n%s", exp, out.String())
	}
}
