package pmm

import (
	"akjoos/kernel/kfmt"
	"akjoos/kernel/mm"
)

// PrintMemoryMap outputs the system memory map, the total amount of
// available memory and the number of frames the frame sources can use.
func PrintMemoryMap(regions []mm.MemoryRegion) {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalFree mm.Size
	for _, region := range regions {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End, uint64(region.Size()), region.Kind.String())

		if region.IsUsable() {
			totalFree += region.Size()
			if !region.IsFrameAligned() {
				kfmt.Printf("\t  ^ region is not frame-aligned and will not be used\n")
			}
		}
	}

	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] usable frames: %d\n", CountUsableFrames(regions, 0))
}
