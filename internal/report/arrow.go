// Package report turns comparison rows into Arrow record batches and
// summary statistics.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-truncf/internal/compare"
	"github.com/23skdu/longbow-truncf/internal/rz"
)

// Column names of the comparison schema.
const (
	ColInput         = "input"
	ColTruncated     = "truncated"
	ColNative        = "native"
	ColTruncatedBits = "truncated_bits"
	ColNativeBits    = "native_bits"
	ColULP           = "ulp"
	ColDiverges      = "diverges"
)

// Schema is the layout of every comparison record batch.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: ColInput, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColTruncated, Type: arrow.PrimitiveTypes.Float32},
		{Name: ColNative, Type: arrow.PrimitiveTypes.Float32},
		{Name: ColTruncatedBits, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColNativeBits, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColULP, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColDiverges, Type: arrow.FixedWidthTypes.Boolean},
	},
	nil,
)

// ErrSchemaMismatch is returned when a record lacks a comparison column.
var ErrSchemaMismatch = errors.New("record does not match comparison schema")

// RecordBatchBuilder creates Arrow RecordBatches from comparison rows.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// Build converts rows into a RecordBatch. It returns nil for no rows.
// The caller owns the result and must Release it.
func (b *RecordBatchBuilder) Build(rows []compare.Row) (arrow.RecordBatch, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	inputs := array.NewInt32Builder(b.mem)
	defer inputs.Release()
	truncated := array.NewFloat32Builder(b.mem)
	defer truncated.Release()
	native := array.NewFloat32Builder(b.mem)
	defer native.Release()
	truncatedBits := array.NewUint32Builder(b.mem)
	defer truncatedBits.Release()
	nativeBits := array.NewUint32Builder(b.mem)
	defer nativeBits.Release()
	ulps := array.NewUint32Builder(b.mem)
	defer ulps.Release()
	diverges := array.NewBooleanBuilder(b.mem)
	defer diverges.Release()

	n := len(rows)
	inputs.Reserve(n)
	truncated.Reserve(n)
	native.Reserve(n)
	truncatedBits.Reserve(n)
	nativeBits.Reserve(n)
	ulps.Reserve(n)
	diverges.Reserve(n)

	for _, r := range rows {
		inputs.UnsafeAppend(r.Input)
		truncated.UnsafeAppend(r.Truncated.Float32())
		native.UnsafeAppend(r.Native.Float32())
		truncatedBits.UnsafeAppend(uint32(r.Truncated))
		nativeBits.UnsafeAppend(uint32(r.Native))
		ulps.UnsafeAppend(r.ULP)
		diverges.UnsafeAppend(r.Diverges())
	}

	cols := []arrow.Array{
		inputs.NewArray(),
		truncated.NewArray(),
		native.NewArray(),
		truncatedBits.NewArray(),
		nativeBits.NewArray(),
		ulps.NewArray(),
		diverges.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(Schema, cols, int64(n)), nil
}

// Rows decodes a comparison record batch back into rows. Float columns are
// ignored; the bit columns are authoritative.
func Rows(rec arrow.RecordBatch) ([]compare.Row, error) {
	inputs, err := column[*array.Int32](rec, ColInput)
	if err != nil {
		return nil, err
	}
	truncatedBits, err := column[*array.Uint32](rec, ColTruncatedBits)
	if err != nil {
		return nil, err
	}
	nativeBits, err := column[*array.Uint32](rec, ColNativeBits)
	if err != nil {
		return nil, err
	}
	ulps, err := column[*array.Uint32](rec, ColULP)
	if err != nil {
		return nil, err
	}

	rows := make([]compare.Row, inputs.Len())
	for i := range rows {
		rows[i] = compare.Row{
			Input:     inputs.Value(i),
			Truncated: rz.Bits(truncatedBits.Value(i)),
			Native:    rz.Bits(nativeBits.Value(i)),
			ULP:       ulps.Value(i),
		}
	}
	return rows, nil
}

func column[T arrow.Array](rec arrow.RecordBatch, name string) (T, error) {
	var zero T
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return zero, fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, name)
	}
	col, ok := rec.Column(indices[0]).(T)
	if !ok {
		return zero, fmt.Errorf("%w: column %q has type %s", ErrSchemaMismatch, name, rec.Column(indices[0]).DataType())
	}
	return col, nil
}

// WriteStream writes records as an Arrow IPC stream.
func WriteStream(w io.Writer, recs ...arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(Schema))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
	}
	return writer.Close()
}

// ReadRows reads every batch of an Arrow IPC stream.
func ReadRows(r io.Reader, mem memory.Allocator) ([]compare.Row, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC reader: %w", err)
	}
	defer reader.Release()

	var rows []compare.Row
	for reader.Next() {
		batch, err := Rows(reader.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return rows, nil
}
