package vmm

import (
	"akjoos/kernel/mm"
	"unsafe"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table's top-level directory. Tables are accessed through the
// physical-memory offset: a table stored at physical address p is read at
// virtual address physOffset+p.
//
// The walker may update the entry it receives (e.g. to install a missing
// table) before the walk descends into the table it points to.
func (pt *OffsetPageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := mm.PhysToVirt(pt.physOffset, pt.pdtFrame.Address())

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte := (*pageTableEntry)(unsafe.Pointer(tableAddr + (entryIndex << mm.PointerShift)))

		if !walkFn(level, pte) {
			return
		}

		tableAddr = mm.PhysToVirt(pt.physOffset, pte.Frame().Address())
	}
}
