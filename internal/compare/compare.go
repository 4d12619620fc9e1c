// Package compare runs integer ranges through the truncating converter and
// the native conversion side by side.
package compare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-truncf/internal/rz"
)

const (
	// MinStart is the smallest accepted range start.
	MinStart = math.MinInt32
	// MaxEnd is the largest accepted (exclusive) range end.
	MaxEnd   = math.MaxInt32 + 1

	defaultBatchSize = 4096
)

// ErrInvalidRange is returned for ranges outside int32 or with start > end.
var ErrInvalidRange = errors.New("invalid range")

var tracer = otel.Tracer("truncf-compare")

// Row is one input with both conversions.
type Row struct {
	Input     int32
	Truncated rz.Bits
	Native    rz.Bits
	ULP       uint32
}

// Diverges reports whether truncation and round-to-nearest disagree.
func (r Row) Diverges() bool {
	return r.Truncated != r.Native
}

// Evaluate converts a both ways.
func Evaluate(a int32) Row {
	tr := rz.Int32ToFloat32(a)
	nat := rz.Native(a)
	return Row{
		Input:     a,
		Truncated: tr,
		Native:    nat,
		ULP:       rz.ULPDistance(tr, nat),
	}
}

// StreamResult is an ordered chunk of a comparison. Offset is relative to the
// range start. A non-nil Err terminates the stream.
type StreamResult struct {
	Offset int
	Count  int
	Rows   []Row
	Err    error
}

// ValidateRange checks the half-open range [start, end).
func ValidateRange(start, end int64) error {
	if start < MinStart || start > MaxEnd {
		return fmt.Errorf("%w: start %d outside int32", ErrInvalidRange, start)
	}
	if end < MinStart || end > MaxEnd {
		return fmt.Errorf("%w: end %d outside int32", ErrInvalidRange, end)
	}
	if start > end {
		return fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	return nil
}

// Comparator splits ranges into batches and evaluates them on a bounded set
// of goroutines. It is safe for concurrent use.
type Comparator struct {
	workers   int
	batchSize int
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithWorkers sets the number of batches evaluated concurrently.
func WithWorkers(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBatchSize sets the number of rows per StreamResult.
func WithBatchSize(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewComparator creates a comparator. Workers default to NumCPU capped at 16.
func NewComparator(opts ...Option) *Comparator {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	c := &Comparator{
		workers:   workers,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Workers returns the configured concurrency.
func (c *Comparator) Workers() int { return c.workers }

// BatchSize returns the configured chunk size.
func (c *Comparator) BatchSize() int { return c.batchSize }

// Compare streams rows for [start, end) in input order. The channel is
// closed after the last chunk, after an error, or once ctx is done.
func (c *Comparator) Compare(ctx context.Context, start, end int64) <-chan StreamResult {
	out := make(chan StreamResult, c.workers)

	if err := ValidateRange(start, end); err != nil {
		out <- StreamResult{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		ctx, span := tracer.Start(ctx, "Compare")
		defer span.End()
		span.SetAttributes(
			attribute.Int64("range.start", start),
			attribute.Int64("range.end", end),
		)

		total := int(end - start)
		batches := (total + c.batchSize - 1) / c.batchSize

		// Evaluate up to c.workers batches at once, emit them in order.
		for first := 0; first < batches; first += c.workers {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				send(ctx, out, StreamResult{Err: err})
				return
			}

			last := first + c.workers
			if last > batches {
				last = batches
			}

			window := make([]StreamResult, last-first)
			var wg sync.WaitGroup
			for b := first; b < last; b++ {
				offset := b * c.batchSize
				count := c.batchSize
				if offset+count > total {
					count = total - offset
				}

				wg.Add(1)
				go func(slot, offset, count int) {
					defer wg.Done()
					window[slot] = c.runBatch(start, offset, count)
				}(b-first, offset, count)
			}
			wg.Wait()

			for _, res := range window {
				if !send(ctx, out, res) {
					span.RecordError(ctx.Err())
					return
				}
			}
		}
	}()

	return out
}

func (c *Comparator) runBatch(start int64, offset, count int) StreamResult {
	t0 := time.Now()
	rows := make([]Row, count)
	divergent := 0
	base := start + int64(offset)
	for i := range rows {
		rows[i] = Evaluate(int32(base + int64(i)))
		if rows[i].Diverges() {
			divergent++
		}
	}

	rowsCompared.Add(float64(count))
	divergentRows.Add(float64(divergent))
	batchDuration.Observe(time.Since(t0).Seconds())

	return StreamResult{Offset: offset, Count: count, Rows: rows}
}

func send(ctx context.Context, out chan<- StreamResult, res StreamResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect gathers the whole range in order.
func (c *Comparator) Collect(ctx context.Context, start, end int64) ([]Row, error) {
	capacity := 0
	if end > start {
		capacity = int(end - start)
		if capacity > 1<<20 {
			capacity = 1 << 20
		}
	}
	rows := make([]Row, 0, capacity)

	for res := range c.Compare(ctx, start, end) {
		if res.Err != nil {
			return nil, res.Err
		}
		rows = append(rows, res.Rows...)
	}
	// A cancelled stream may close without delivering the error chunk.
	if err := ctx.Err(); err != nil && len(rows) < int(end-start) {
		return nil, err
	}
	return rows, nil
}

// FirstDivergence returns the lowest input in [start, end) whose two
// conversions differ.
func (c *Comparator) FirstDivergence(ctx context.Context, start, end int64) (Row, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for res := range c.Compare(ctx, start, end) {
		if res.Err != nil {
			return Row{}, false, res.Err
		}
		for _, r := range res.Rows {
			if r.Diverges() {
				return r, true, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	return Row{}, false, nil
}
