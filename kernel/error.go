// Package kernel contains the error type shared by every kernel subsystem and
// helpers for operating on raw memory addresses.
package kernel

// Error describes a kernel error. All kernel errors are defined as package
// level variables that are returned by pointer so callers can compare them
// without allocating.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
