package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-truncf/internal/compare"
)

// Summary describes how truncation and native rounding differ over a range.
type Summary struct {
	Start          int64   `cbor:"start"`
	End            int64   `cbor:"end"`
	Count          int     `cbor:"count"`
	Divergent      int     `cbor:"divergent"`
	MaxULP         uint32  `cbor:"max_ulp"`
	FirstDivergent *int32  `cbor:"first_divergent,omitempty"`
	MeanAbsError   float64 `cbor:"mean_abs_error"`
	StdDevAbsError float64 `cbor:"stddev_abs_error"`
}

// Accumulator builds a Summary from rows fed in input order. Its state is
// bounded by the number of distinct error magnitudes, not by the row count.
type Accumulator struct {
	start, end int64
	count      int
	divergent  int
	maxULP     uint32
	first      *int32

	// weights maps each absolute error to the number of rows with it.
	// Non-divergent rows are counted under 0 when the summary is built.
	weights map[float64]float64
}

// NewAccumulator starts an empty summary of the range [start, end).
func NewAccumulator(start, end int64) *Accumulator {
	return &Accumulator{start: start, end: end, weights: make(map[float64]float64)}
}

// Add folds rows into the summary.
func (a *Accumulator) Add(rows ...compare.Row) {
	for _, r := range rows {
		a.count++
		if !r.Diverges() {
			continue
		}
		if a.first == nil {
			in := r.Input
			a.first = &in
		}
		a.divergent++
		if r.ULP > a.maxULP {
			a.maxULP = r.ULP
		}
		a.weights[math.Abs(float64(r.Truncated.Float32())-float64(r.Native.Float32()))]++
	}
}

// Summary returns the statistics gathered so far.
func (a *Accumulator) Summary() Summary {
	s := Summary{
		Start:          a.start,
		End:            a.end,
		Count:          a.count,
		Divergent:      a.divergent,
		MaxULP:         a.maxULP,
		FirstDivergent: a.first,
	}
	if a.count == 0 || a.divergent == 0 {
		return s
	}

	x := make([]float64, 0, len(a.weights)+1)
	x = append(x, 0)
	for e := range a.weights {
		x = append(x, e)
	}
	// Fixed order keeps the float sums reproducible.
	sort.Float64s(x[1:])

	w := make([]float64, len(x))
	w[0] = float64(a.count - a.divergent)
	for i := 1; i < len(x); i++ {
		w[i] = a.weights[x[i]]
	}
	s.MeanAbsError = stat.Mean(x, w)
	if a.count > 1 {
		s.StdDevAbsError = stat.StdDev(x, w)
	}
	return s
}

// Summarize computes a Summary over already collected rows.
func Summarize(start, end int64, rows []compare.Row) Summary {
	acc := NewAccumulator(start, end)
	acc.Add(rows...)
	return acc.Summary()
}

// EncodeSummary writes s as CBOR.
func EncodeSummary(w io.Writer, s Summary) error {
	if err := cbor.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// DecodeSummary reads a CBOR summary.
func DecodeSummary(r io.Reader) (Summary, error) {
	var s Summary
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return s, nil
}
