// Package cpu exposes the privileged amd64 instructions used by the memory
// subsystem. All functions are implemented in assembly.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt flag (IF) is set in the
// RFLAGS register.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
