package render

import (
	"fmt"
	"io"

	"github.com/23skdu/longbow-truncf/internal/compare"
)

const (
	// DefaultWidth is the minimum width of each float column.
	DefaultWidth      = 7
	// DefaultPrecision is the number of fractional digits.
	DefaultPrecision  = 4
	// DefaultLineEnding is what the serial terminal expects.
	DefaultLineEnding = "\r\n"
)

// LineWriter renders rows as "<input> <truncated> <native>" lines.
// It is not safe for concurrent use.
type LineWriter struct {
	w     io.Writer
	width int
	prec  int
	eol   string

	truncated Buffer
	native    Buffer
}

// LineOption configures a LineWriter.
type LineOption func(*LineWriter)

// WithWidth sets the minimum field width of both float columns.
func WithWidth(width int) LineOption {
	return func(lw *LineWriter) { lw.width = width }
}

// WithPrecision sets the number of fractional digits.
func WithPrecision(prec int) LineOption {
	return func(lw *LineWriter) { lw.prec = prec }
}

// WithLineEnding sets the line terminator.
func WithLineEnding(eol string) LineOption {
	return func(lw *LineWriter) { lw.eol = eol }
}

// NewLineWriter returns a writer using the defaults unless overridden.
func NewLineWriter(w io.Writer, opts ...LineOption) *LineWriter {
	lw := &LineWriter{
		w:     w,
		width: DefaultWidth,
		prec:  DefaultPrecision,
		eol:   DefaultLineEnding,
	}
	for _, opt := range opts {
		opt(lw)
	}
	return lw
}

// WriteRow writes a single line.
func (lw *LineWriter) WriteRow(r compare.Row) error {
	FormatFixed(&lw.truncated, r.Truncated.Float32(), lw.width, lw.prec)
	FormatFixed(&lw.native, r.Native.Float32(), lw.width, lw.prec)

	if _, err := fmt.Fprintf(lw.w, "%d %s %s%s", r.Input, lw.truncated.String(), lw.native.String(), lw.eol); err != nil {
		return fmt.Errorf("failed to write row %d: %w", r.Input, err)
	}
	return nil
}

// WriteRows writes rows in order, stopping at the first error.
func (lw *LineWriter) WriteRows(rows []compare.Row) error {
	for _, r := range rows {
		if err := lw.WriteRow(r); err != nil {
			return err
		}
	}
	return nil
}
