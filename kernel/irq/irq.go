// Package irq controls interrupt delivery for code that must not be
// preempted by an interrupt handler, such as an allocator holding a spinlock.
package irq

import "akjoos/kernel/cpu"

// Controller provides access to the interrupt flag of the current CPU.
type Controller interface {
	// Enabled returns true if interrupts are currently delivered.
	Enabled() bool

	// Disable masks interrupts.
	Disable()

	// Enable unmasks interrupts.
	Enable()
}

// cpuController drives the interrupt flag with CLI/STI.
type cpuController struct{}

func (cpuController) Enabled() bool { return cpu.InterruptsEnabled() }
func (cpuController) Disable()      { cpu.DisableInterrupts() }
func (cpuController) Enable()       { cpu.EnableInterrupts() }

var (
	// activeController is replaced by hosted environments that cannot
	// execute privileged instructions.
	activeController Controller = cpuController{}
)

// SetController installs c as the interrupt controller used by Disable. A nil
// argument restores the default CPU-backed controller.
func SetController(c Controller) {
	if c == nil {
		c = cpuController{}
	}
	activeController = c
}

// State records whether interrupts were enabled before a call to Disable.
type State struct {
	wasEnabled bool
}

// Disable masks interrupts and returns the previous interrupt state. Calls
// may be nested as long as each State is restored in reverse order.
func Disable() State {
	s := State{wasEnabled: activeController.Enabled()}
	if s.wasEnabled {
		activeController.Disable()
	}
	return s
}

// WasEnabled returns true if interrupts were enabled when s was captured.
func (s State) WasEnabled() bool {
	return s.wasEnabled
}

// Restore unmasks interrupts if they were enabled when s was captured.
func (s State) Restore() {
	if s.wasEnabled {
		activeController.Enable()
	}
}

// SoftController is a Controller that tracks the interrupt flag in memory. It
// is used when running the memory subsystem as a regular user-space process.
// Interrupts raised while the flag is cleared are held pending and delivered
// as soon as Enable is called.
type SoftController struct {
	disabled bool
	pending  []func()

	// DisableCount counts the number of times interrupts got masked.
	DisableCount int
}

// Enabled implements Controller.
func (c *SoftController) Enabled() bool { return !c.disabled }

// Disable implements Controller.
func (c *SoftController) Disable() {
	c.disabled = true
	c.DisableCount++
}

// Enable implements Controller. Any pending interrupt handlers run after the
// flag is set, in the order they were raised.
func (c *SoftController) Enable() {
	c.disabled = false
	for len(c.pending) != 0 && !c.disabled {
		handler := c.pending[0]
		c.pending = c.pending[1:]
		handler()
	}
}

// Raise simulates an interrupt. The handler runs immediately if interrupts
// are enabled; otherwise it is queued until the next call to Enable.
func (c *SoftController) Raise(handler func()) {
	if c.disabled {
		c.pending = append(c.pending, handler)
		return
	}
	handler()
}
