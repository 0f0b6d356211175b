package vmm

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
	"unsafe"
)

var errFakeOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

// fakePhysMem emulates physical memory with a page-aligned Go buffer.
// Physical address 0 is located at base, so base doubles as the
// physical-memory offset for page tables built inside it.
type fakePhysMem struct {
	buf   []byte
	base  uintptr
	next  mm.Frame
	limit mm.Frame
}

func newFakePhysMem(frames int) *fakePhysMem {
	buf := make([]byte, (frames+1)*int(mm.PageSize))
	base := (uintptr(unsafe.Pointer(&buf[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	return &fakePhysMem{
		buf:   buf,
		base:  base,
		limit: mm.Frame(frames),
	}
}

func (m *fakePhysMem) AllocFrame() (mm.Frame, *kernel.Error) {
	if m.next >= m.limit {
		return mm.InvalidFrame, errFakeOutOfFrames
	}

	frame := m.next
	m.next++
	return frame, nil
}

// newTestPageTable reserves the first frame of mem for the top-level
// directory and returns a page table that records flushed addresses.
func newTestPageTable(mem *fakePhysMem, flushed *[]uintptr) *OffsetPageTable {
	pdtFrame, _ := mem.AllocFrame()
	return NewOffsetPageTable(pdtFrame, mem.base).WithTLBFlush(func(virtAddr uintptr) {
		*flushed = append(*flushed, virtAddr)
	})
}

// entriesFor returns the page table entry visited at each level while
// walking virtAddr.
func entriesFor(pt *OffsetPageTable, virtAddr uintptr) []*pageTableEntry {
	var entries []*pageTableEntry
	pt.walk(virtAddr, func(_ uint8, pte *pageTableEntry) bool {
		entries = append(entries, pte)
		return pte.HasFlags(FlagPresent)
	})
	return entries
}
