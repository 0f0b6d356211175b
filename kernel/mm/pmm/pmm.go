// Package pmm contains code that manages physical memory frame allocations.
//
// Two frame sources are provided. BootMemAllocator needs no storage at all
// and is used until a heap exists. QueuedAllocator materializes the remaining
// usable frames once, in memory obtained from that heap, and serves every
// later request in constant time.
package pmm

import "akjoos/kernel"

var (
	// ErrOutOfMemory is returned by frame sources when no usable frame is
	// left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)
