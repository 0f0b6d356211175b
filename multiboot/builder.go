package multiboot

import (
	"akjoos/kernel/mm"
	"encoding/binary"
	"unsafe"
)

// BuildInfo encodes a multiboot2 information structure containing a memory
// map tag for regions and, if non-empty, a command line tag. It lets hosted
// tools feed the same boot path as a real bootloader.
//
// The returned buffer is 8-byte aligned; pass the address of its first
// byte to SetInfoPtr.
func BuildInfo(regions []mm.MemoryRegion, cmdLine string) []byte {
	var (
		le  = binary.LittleEndian
		buf = make([]byte, 8, 256)
	)

	appendTag := func(tag tagType, payload []byte) {
		var hdr [8]byte
		le.PutUint32(hdr[0:], uint32(tag))
		le.PutUint32(hdr[4:], uint32(len(payload)+8))
		buf = append(buf, hdr[:]...)
		buf = append(buf, payload...)
		for len(buf)%8 != 0 {
			buf = append(buf, 0)
		}
	}

	if cmdLine != "" {
		appendTag(tagBootCmdLine, append([]byte(cmdLine), 0))
	}

	entrySize := uint32(unsafe.Sizeof(mmapEntry{}))
	mmap := make([]byte, 8, 8+len(regions)*int(entrySize))
	le.PutUint32(mmap[0:], entrySize)
	for _, region := range regions {
		var entry [24]byte
		le.PutUint64(entry[0:], uint64(region.Start))
		le.PutUint64(entry[8:], uint64(region.Size()))
		le.PutUint32(entry[16:], uint32(entryTypeFor(region.Kind)))
		mmap = append(mmap, entry[:]...)
	}
	appendTag(tagMemoryMap, mmap)
	appendTag(tagMbSectionEnd, nil)

	le.PutUint32(buf[0:], uint32(len(buf)))

	// Copy into a uint64 backed buffer to guarantee 8-byte alignment
	aligned := make([]uint64, len(buf)/8)
	out := unsafe.Slice((*byte)(unsafe.Pointer(&aligned[0])), len(buf))
	copy(out, buf)
	return out
}

func entryTypeFor(kind mm.RegionKind) memoryEntryType {
	switch kind {
	case mm.RegionUsable:
		return memAvailable
	case mm.RegionAcpiReclaimable:
		return memAcpiReclaimable
	case mm.RegionNvs:
		return memNvs
	default:
		return memReserved
	}
}
