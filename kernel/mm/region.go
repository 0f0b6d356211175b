package mm

// RegionKind describes how a physical memory region may be used.
type RegionKind uint32

const (
	// RegionUsable marks memory that is free for the kernel to use.
	RegionUsable RegionKind = iota + 1

	// RegionReserved marks memory that must not be touched.
	RegionReserved

	// RegionAcpiReclaimable marks memory holding ACPI tables that may be
	// reused once they have been parsed.
	RegionAcpiReclaimable

	// RegionNvs marks memory that must be preserved across hibernation.
	RegionNvs

	// RegionBootloader marks memory in use by the bootloader (page tables,
	// boot info, the kernel image).
	RegionBootloader
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case RegionUsable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionAcpiReclaimable:
		return "ACPI (reclaimable)"
	case RegionNvs:
		return "NVS"
	case RegionBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// MemoryRegion describes a physical memory range [Start, End) as reported by
// the firmware. Regions are never modified after boot.
type MemoryRegion struct {
	Start uintptr
	End   uintptr
	Kind  RegionKind
}

// Size returns the region length in bytes.
func (r MemoryRegion) Size() Size {
	if r.End <= r.Start {
		return 0
	}
	return Size(r.End - r.Start)
}

// IsUsable returns true if the kernel may allocate frames from this region.
func (r MemoryRegion) IsUsable() bool {
	return r.Kind == RegionUsable
}

// IsFrameAligned returns true if both region boundaries fall on a frame
// boundary.
func (r MemoryRegion) IsFrameAligned() bool {
	return r.Start&(PageSize-1) == 0 && r.End&(PageSize-1) == 0
}
