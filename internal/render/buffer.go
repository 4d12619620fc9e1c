// Package render formats comparison rows as fixed-point text lines.
package render

import (
	"strconv"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// BufferSize matches the scratch buffers the values were formatted into on
// the serial target.
const BufferSize = 32

// Buffer is a fixed, NUL-padded text buffer.
type Buffer [BufferSize]byte

// cleanText returns a fresh chain; chained transformers keep state.
func cleanText() transform.Transformer {
	return transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(func(r rune) bool { return r == 0 })),
	)
}

// Reset zeroes the buffer.
func (b *Buffer) Reset() {
	*b = Buffer{}
}

// Len returns the number of bytes before the first NUL.
func (b *Buffer) Len() int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return BufferSize
}

// Bytes returns the text up to the first NUL.
func (b *Buffer) Bytes() []byte {
	return b[:b.Len()]
}

// String returns the contents with NUL padding removed and ill-formed UTF-8
// replaced.
func (b *Buffer) String() string {
	s, _, err := transform.String(cleanText(), string(b[:]))
	if err != nil {
		return string(b.Bytes())
	}
	return s
}

// FormatFixed writes v with prec fractional digits, right-aligned to width
// (left-aligned when width is negative), into buf. Output beyond
// BufferSize-1 bytes is cut so the buffer always keeps a terminating NUL.
func FormatFixed(buf *Buffer, v float32, width, prec int) *Buffer {
	if prec < 0 {
		prec = 0
	}

	var scratch [64]byte
	digits := strconv.AppendFloat(scratch[:0], float64(v), 'f', prec, 32)

	left := width < 0
	if left {
		width = -width
	}
	pad := width - len(digits)
	if pad < 0 {
		pad = 0
	}

	buf.Reset()
	n := 0
	put := func(c byte) {
		if n < BufferSize-1 {
			buf[n] = c
			n++
		}
	}
	if !left {
		for i := 0; i < pad; i++ {
			put(' ')
		}
	}
	for _, c := range digits {
		put(c)
	}
	if left {
		for i := 0; i < pad; i++ {
			put(' ')
		}
	}
	return buf
}
