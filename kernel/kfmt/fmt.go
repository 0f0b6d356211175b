// Package kfmt provides the kernel's logging facilities: a Printf
// implementation that is safe to use before any heap exists, an early ring
// buffer that captures output until a sink is attached and the kernel panic
// handler.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the scratch buffer size for formatting numbers.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// oneByte is a shared buffer for emitting single characters without
	// slicing the format string (which would allocate).
	oneByte = []byte{0}

	// earlyPrintBuffer stores Printf output produced before an output sink
	// is attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. While nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and flushes
// any output accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted message to the active output sink. It supports
// a subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%o  base 8 integer
//	%x  base 16 integer with lower-case letters
//	%t  boolean
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Printf never allocates, so it may be called while the memory subsystem is
// still being bootstrapped. It does not support %p or io.Stringer values as
// both would require reflection.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		fmtLen   = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'o', 'x', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[argIndex], 10, width)
		case 'o':
			fmtInt(w, args[argIndex], 8, width)
		case 'x':
			fmtInt(w, args[argIndex], 16, width)
		case 's':
			fmtString(w, args[argIndex], width)
		case 't':
			fmtBool(w, args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		writeRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		writeRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt formats any built-in integer type in the requested base.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Digits are emitted right-to-left starting at the end of numBuf.
	pos := numBufSize
	for {
		pos--
		digit := uval % base
		if digit < 10 {
			numBuf[pos] = byte(digit) + '0'
		} else {
			numBuf[pos] = byte(digit-10) + 'a'
		}

		if uval /= base; uval == 0 {
			break
		}
	}

	// Space padding goes in front of the sign; zero padding goes after it.
	if neg && padCh == ' ' {
		pos--
		numBuf[pos] = '-'
		neg = false
	}

	signLen := 0
	if neg {
		signLen = 1
	}

	for numBufSize-pos+signLen < width {
		pos--
		numBuf[pos] = padCh
	}

	if neg {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

func abs(n int64) (uint64, bool) {
	if n < 0 {
		return uint64(-n), true
	}
	return uint64(n), false
}

func writeRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	doWrite(w, oneByte)
}

// doWrite hides p from escape analysis. Without this the compiler flags p as
// escaping through the unknown io.Writer and every Printf call would
// allocate, which crashes the kernel before the heap is available.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. Copied from runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
