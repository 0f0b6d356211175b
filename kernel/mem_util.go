package kernel

import "unsafe"

// overlay returns a byte slice that spans size bytes starting at addr.
func overlay(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte-by-byte loop, the first byte is set and then log2(size) copy
// calls double the initialized prefix which is fast for the page-aligned
// regions this function is mostly used with.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := overlay(addr, size)
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(overlay(dst, size), overlay(src, size))
}
