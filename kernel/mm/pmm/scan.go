package pmm

import "akjoos/kernel/mm"

// FrameVisitor is invoked by VisitUsableFrames for each usable frame. The
// visitor must return true to continue or false to abort the scan.
type FrameVisitor func(mm.Frame) bool

// VisitUsableFrames invokes visitor for each usable frame in the supplied
// memory map, in map order, after skipping the first skip frames.
//
// Only regions of kind mm.RegionUsable whose start and end addresses are both
// frame-aligned contribute frames; unaligned usable regions are ignored
// altogether. The scan keeps no state, so calling it again with a larger skip
// value is how frame sources advance.
func VisitUsableFrames(regions []mm.MemoryRegion, skip uint64, visitor FrameVisitor) {
	for _, region := range regions {
		if !region.IsUsable() || !region.IsFrameAligned() || region.End <= region.Start {
			continue
		}

		startFrame := mm.FrameFromAddress(region.Start)
		frameCount := uint64(region.End-region.Start) >> mm.PageShift

		// Skip over whole regions without visiting their frames
		if skip >= frameCount {
			skip -= frameCount
			continue
		}

		for frame := startFrame + mm.Frame(skip); frame < startFrame+mm.Frame(frameCount); frame++ {
			if !visitor(frame) {
				return
			}
		}
		skip = 0
	}
}

// FirstUsableFrame returns the first usable frame after skipping skip frames.
// It returns false if the memory map does not contain enough usable frames.
func FirstUsableFrame(regions []mm.MemoryRegion, skip uint64) (mm.Frame, bool) {
	var (
		found bool
		first = mm.InvalidFrame
	)

	VisitUsableFrames(regions, skip, func(frame mm.Frame) bool {
		first, found = frame, true
		return false
	})

	return first, found
}

// CountUsableFrames returns the number of usable frames left in the memory
// map after skipping skip frames.
func CountUsableFrames(regions []mm.MemoryRegion, skip uint64) uint64 {
	var total uint64
	for _, region := range regions {
		if region.IsUsable() && region.IsFrameAligned() && region.End > region.Start {
			total += uint64(region.End-region.Start) >> mm.PageShift
		}
	}

	if skip >= total {
		return 0
	}
	return total - skip
}
