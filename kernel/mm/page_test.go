package mm

import (
	"akjoos/kernel"
	"testing"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x100000, Frame(256)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestFrameSourceFunc(t *testing.T) {
	var allocCalled bool
	src := FrameSourceFunc(func() (Frame, *kernel.Error) {
		allocCalled = true
		return FrameFromAddress(0xbadf00), nil
	})

	frame, err := src.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if !allocCalled {
		t.Fatal("expected wrapped function to be invoked by AllocFrame")
	}

	if exp := FrameFromAddress(0xbadf00); frame != exp {
		t.Fatalf("expected frame %d; got %d", exp, frame)
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<PageShift), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestPhysToVirt(t *testing.T) {
	specs := []struct {
		offset, phys, exp uintptr
	}{
		{0, 0x1000, 0x1000},
		{0xffff800000000000, 0, 0xffff800000000000},
		{0xffff800000000000, 0x1234, 0xffff800000001234},
	}

	for specIndex, spec := range specs {
		if got := PhysToVirt(spec.offset, spec.phys); got != spec.exp {
			t.Errorf("[spec %d] expected 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestSizePages(t *testing.T) {
	specs := []struct {
		size Size
		exp  uint64
	}{
		{0, 0},
		{1, 1},
		{4096, 1},
		{4097, 2},
		{2 * Mb, 512},
		{64 * Mb, 16384},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.exp {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestMemoryRegion(t *testing.T) {
	specs := []struct {
		region     MemoryRegion
		expSize    Size
		expUsable  bool
		expAligned bool
	}{
		{MemoryRegion{0x100000, 0x200000, RegionUsable}, Mb, true, true},
		{MemoryRegion{0x100010, 0x200000, RegionUsable}, Mb - 16, true, false},
		{MemoryRegion{0x100000, 0x200010, RegionUsable}, Mb + 16, true, false},
		{MemoryRegion{0x0, 0x1000, RegionReserved}, 4 * Kb, false, true},
		{MemoryRegion{0x2000, 0x1000, RegionUsable}, 0, true, true},
	}

	for specIndex, spec := range specs {
		if got := spec.region.Size(); got != spec.expSize {
			t.Errorf("[spec %d] expected size %d; got %d", specIndex, spec.expSize, got)
		}
		if got := spec.region.IsUsable(); got != spec.expUsable {
			t.Errorf("[spec %d] expected IsUsable to return %t; got %t", specIndex, spec.expUsable, got)
		}
		if got := spec.region.IsFrameAligned(); got != spec.expAligned {
			t.Errorf("[spec %d] expected IsFrameAligned to return %t; got %t", specIndex, spec.expAligned, got)
		}
	}
}

func TestRegionKindString(t *testing.T) {
	specs := []struct {
		kind RegionKind
		exp  string
	}{
		{RegionUsable, "available"},
		{RegionReserved, "reserved"},
		{RegionAcpiReclaimable, "ACPI (reclaimable)"},
		{RegionNvs, "NVS"},
		{RegionBootloader, "bootloader"},
		{RegionKind(123), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.kind.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
