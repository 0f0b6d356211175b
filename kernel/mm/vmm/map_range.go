package vmm

import (
	"akjoos/kernel"
	"akjoos/kernel/mm"
)

// MapRange backs the virtual address range [start, start+size) with physical
// frames obtained from frames. Every page touched by the range is mapped to
// its own frame with the supplied flags and its TLB entry is flushed before
// the next page is processed. Page tables needed along the way are also
// allocated from frames.
//
// Ranges wrapping around the end of the address space are rejected with
// ErrRangeOverflow. MapRange returns ErrFrameAllocationFailed as soon as
// frames is exhausted. Mappings installed before the failure are not rolled
// back.
func MapRange(mapper Mapper, start uintptr, size mm.Size, frames mm.FrameSource, flags PageTableEntryFlag) *kernel.Error {
	if size == 0 {
		return nil
	}

	last := start + uintptr(size) - 1
	if last < start {
		return ErrRangeOverflow
	}

	startPage := mm.PageFromAddress(start)
	endPage := mm.PageFromAddress(last)

	for page := startPage; page <= endPage; page++ {
		frame, err := frames.AllocFrame()
		if err != nil {
			return ErrFrameAllocationFailed
		}

		guard, err := mapper.MapTo(page, frame, flags, frames)
		if err != nil {
			return err
		}
		guard.Flush()
	}

	return nil
}
