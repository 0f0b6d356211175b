// Package multiboot extracts the memory map and the kernel command line from
// the multiboot2 information structure handed over by the bootloader.
package multiboot

import (
	"akjoos/kernel/mm"
	"strings"
	"unsafe"
)

var (
	infoData  uintptr
	cmdLineKV map[string]string
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// memoryEntryType defines the type of a memory map entry as reported by the
// bootloader.
type memoryEntryType uint32

const (
	memAvailable memoryEntryType = iota + 1
	memReserved
	memAcpiReclaimable
	memNvs
)

// mmapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type mmapEntry struct {
	physAddress uint64
	length      uint64
	entryType   memoryEntryType
	reserved    uint32
}

// regionKind maps a bootloader entry type to a mm.RegionKind. Unknown types
// (including defective RAM) are treated as reserved.
func (t memoryEntryType) regionKind() mm.RegionKind {
	switch t {
	case memAvailable:
		return mm.RegionUsable
	case memAcpiReclaimable:
		return mm.RegionAcpiReclaimable
	case memNvs:
		return mm.RegionNvs
	default:
		return mm.RegionReserved
	}
}

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(mm.MemoryRegion) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
	cmdLineKV = nil
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
// It does not allocate and can therefore be used before any heap is available.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	if ptrMapHeader.entrySize == 0 {
		return
	}

	endPtr := curPtr + uintptr(size)
	curPtr += 8

	for ; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry := (*mmapEntry)(unsafe.Pointer(curPtr))

		region := mm.MemoryRegion{
			Start: uintptr(entry.physAddress),
			End:   uintptr(entry.physAddress + entry.length),
			Kind:  entry.entryType.regionKind(),
		}

		if !visitor(region) {
			return
		}
	}
}

// cmdLine returns the raw kernel command line without its NULL terminator.
func cmdLine() []byte {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size <= 1 {
		return nil
	}

	// The command line is a C-style NULL-terminated string
	return unsafe.Slice((*byte)(unsafe.Pointer(curPtr)), size-1)
}

// HasBootFlag returns true if the kernel command line contains name either
// as a bare word or as the key of a key=value pair. Unlike GetBootCmdLine it
// does not allocate.
func HasBootFlag(name string) bool {
	line := cmdLine()
	for start := 0; start < len(line); {
		for start < len(line) && line[start] == ' ' {
			start++
		}

		end := start
		for end < len(line) && line[end] != ' ' && line[end] != '=' {
			end++
		}

		if end-start == len(name) && string(line[start:end]) == name {
			return true
		}

		for end < len(line) && line[end] != ' ' {
			end++
		}
		start = end
	}

	return false
}

// GetBootCmdLine returns the command line key-value pairs passed to the
// kernel. This function must only be invoked after bootstrapping the memory
// allocator.
func GetBootCmdLine() map[string]string {
	if cmdLineKV != nil {
		return cmdLineKV
	}

	cmdLineKV = make(map[string]string)

	for _, pair := range strings.Fields(string(cmdLine())) {
		kv := strings.Split(pair, "=")
		switch len(kv) {
		case 2: // foo=bar
			cmdLineKV[kv[0]] = kv[1]
		case 1: // nofoo
			cmdLineKV[kv[0]] = kv[0]
		}
	}

	return cmdLineKV
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + unsafe.Sizeof(info{})
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
