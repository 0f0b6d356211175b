// Package vmm manages page tables and installs virtual to physical mappings.
package vmm

import (
	"akjoos/kernel"
	"akjoos/kernel/cpu"
	"akjoos/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrFrameAllocationFailed is returned when a mapping cannot be
	// completed because no physical frame could be obtained for it or for
	// one of the page tables it requires.
	ErrFrameAllocationFailed = &kernel.Error{Module: "vmm", Message: "frame allocation failed"}

	// ErrPageAlreadyMapped is returned when trying to map a page that is
	// already mapped.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// ErrHugePage is returned when a walk meets a huge page mapping.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ErrRangeOverflow is returned when a range extends past the end of the
	// address space.
	ErrRangeOverflow = &kernel.Error{Module: "vmm", Message: "address range overflows the address space"}
)

// Mapper is implemented by page tables that can install a mapping between a
// virtual page and a physical frame.
type Mapper interface {
	// MapTo maps page to frame using the supplied flags. Any page tables
	// that need to be created are backed by frames obtained from tables.
	// The returned FlushGuard must be flushed for the mapping to become
	// visible through the TLB.
	MapTo(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, tables mm.FrameSource) (FlushGuard, *kernel.Error)
}

// FlushGuard is returned by MapTo and flushes the TLB entry of the page it
// refers to.
type FlushGuard struct {
	page    mm.Page
	flushFn func(uintptr)
}

// Page returns the page whose mapping was just installed.
func (g FlushGuard) Page() mm.Page {
	return g.page
}

// Flush invalidates the TLB entry for the guarded page.
func (g FlushGuard) Flush() {
	if g.flushFn != nil {
		g.flushFn(g.page.Address())
	}
}

// OffsetPageTable is a 4-level page table hierarchy whose tables are
// accessed through the region where the bootloader mapped all of physical
// memory at a fixed virtual offset.
type OffsetPageTable struct {
	pdtFrame   mm.Frame
	physOffset uintptr
	flushFn    func(uintptr)
}

// NewOffsetPageTable returns an OffsetPageTable whose top-level directory is
// stored in pdtFrame. All physical memory must be mapped starting at the
// virtual address physOffset.
func NewOffsetPageTable(pdtFrame mm.Frame, physOffset uintptr) *OffsetPageTable {
	return &OffsetPageTable{pdtFrame: pdtFrame, physOffset: physOffset}
}

// ActivePageTable returns an OffsetPageTable for the page directory that is
// currently loaded in CR3.
func ActivePageTable(physOffset uintptr) *OffsetPageTable {
	return NewOffsetPageTable(mm.FrameFromAddress(activePDTFn()), physOffset)
}

// WithTLBFlush replaces the function used to invalidate TLB entries and
// returns the page table. It allows the page table to be driven from an
// environment where INVLPG cannot be executed.
func (pt *OffsetPageTable) WithTLBFlush(fn func(virtAddr uintptr)) *OffsetPageTable {
	pt.flushFn = fn
	return pt
}

// PDTFrame returns the physical frame holding the top-level page directory.
func (pt *OffsetPageTable) PDTFrame() mm.Frame {
	return pt.pdtFrame
}

// Table returns a pointer to the top-level directory entries, accessed
// through the physical-memory offset.
func (pt *OffsetPageTable) Table() *[1 << 9]uintptr {
	return (*[1 << 9]uintptr)(unsafe.Pointer(mm.PhysToVirt(pt.physOffset, pt.pdtFrame.Address())))
}

// MapTo establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated from tables, cleared and
// linked in with FlagPresent|FlagRW (plus FlagUserAccessible if requested
// for the page).
//
// MapTo returns ErrPageAlreadyMapped if the page is mapped and
// ErrFrameAllocationFailed if a table frame cannot be obtained. Tables
// created before a failure are left in place.
func (pt *OffsetPageTable) MapTo(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, tables mm.FrameSource) (FlushGuard, *kernel.Error) {
	var (
		err         *kernel.Error
		parentFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	pt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrPageAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			return true
		}

		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = ErrHugePage
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			if tables == nil {
				err = ErrFrameAllocationFailed
				return false
			}

			tableFrame, allocErr := tables.AllocFrame()
			if allocErr != nil {
				err = ErrFrameAllocationFailed
				return false
			}

			kernel.Memset(mm.PhysToVirt(pt.physOffset, tableFrame.Address()), 0, mm.PageSize)
			*pte = 0
			pte.SetFrame(tableFrame)
		}

		pte.SetFlags(parentFlags)
		return true
	})

	if err != nil {
		return FlushGuard{}, err
	}

	return FlushGuard{page: page, flushFn: pt.tlbFlushFn()}, nil
}

// Unmap removes a mapping previously installed via a call to MapTo and
// flushes its TLB entry.
func (pt *OffsetPageTable) Unmap(page mm.Page) *kernel.Error {
	pte, err := pt.pteForAddress(page.Address())
	if err != nil {
		return err
	}

	pte.ClearFlags(FlagPresent)
	FlushGuard{page: page, flushFn: pt.tlbFlushFn()}.Flush()
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pt *OffsetPageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pt.pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address, or ErrInvalidMapping if any level along the
// way is not present.
func (pt *OffsetPageTable) pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	pt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		if pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage) {
			entry = nil
			err = ErrHugePage
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

func (pt *OffsetPageTable) tlbFlushFn() func(uintptr) {
	if pt.flushFn != nil {
		return pt.flushFn
	}
	return flushTLBEntryFn
}
