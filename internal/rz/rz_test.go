package rz

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceBits rounds a through math/big at 24 bits of precision.
func referenceBits(a int32, mode big.RoundingMode) Bits {
	f := new(big.Float).SetPrec(24).SetMode(mode)
	f.SetInt64(int64(a))
	v, _ := f.Float32()
	return Bits(math.Float32bits(v))
}

func TestInt32ToFloat32_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		in   int32
		want Bits
	}{
		{"zero", 0, 0x00000000},
		{"one", 1, 0x3F800000},
		{"minus one", -1, 0xBF800000},
		{"two", 2, 0x40000000},
		{"three", 3, 0x40400000},
		{"499", 499, 0x43F98000},
		{"2^24", 1 << 24, 0x4B800000},
		{"2^24+1", 1<<24 + 1, 0x4B800000},
		{"2^24+3", 1<<24 + 3, 0x4B800001},
		{"max int32", math.MaxInt32, 0x4EFFFFFF},
		{"min int32", math.MinInt32, 0xCF000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Int32ToFloat32(tt.in)
			if got != tt.want {
				t.Fatalf("Int32ToFloat32(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInt32ToFloat32_Zero(t *testing.T) {
	assert.Equal(t, Bits(0), Int32ToFloat32(0))
	assert.Equal(t, uint32(0), math.Float32bits(Truncate(0)))
}

func TestInt32ToFloat32_Sign(t *testing.T) {
	inputs := []int32{1, -1, 2, -2, 255, -255, 1 << 24, -(1 << 24), math.MaxInt32, math.MinInt32}
	for _, a := range inputs {
		want := uint32(0)
		if a < 0 {
			want = 1
		}
		assert.Equal(t, want, Int32ToFloat32(a).Sign(), "sign of %d", a)
	}
}

func TestInt32ToFloat32_ExactBelowMantissaWidth(t *testing.T) {
	// Every value with |a| < 2^24 is exact and matches the native conversion.
	for a := int32(-70000); a <= 70000; a++ {
		got := Int32ToFloat32(a)
		if got != Native(a) {
			t.Fatalf("a=%d: got %v, native %v", a, got, Native(a))
		}
		if got.Float32() != float32(a) {
			t.Fatalf("a=%d: value %v", a, got.Float32())
		}
	}

	r := rand.New(rand.NewSource(24))
	for i := 0; i < 100000; i++ {
		a := int32(r.Intn(1<<25)) - (1 << 24) + 1
		require.Equal(t, Native(a), Int32ToFloat32(a), "a=%d", a)
	}
}

func TestInt32ToFloat32_TruncationDivergence(t *testing.T) {
	// 2^24+1: the dropped bit is exactly half an ulp; ties-to-even also
	// lands on 2^24.
	a := int32(1<<24 + 1)
	assert.Equal(t, float32(16777216), Truncate(a))
	assert.Equal(t, float32(16777216), float32(a))

	// 2^24+3: truncation keeps 16777218, native rounds up to 16777220.
	a = int32(1<<24 + 3)
	assert.Equal(t, float32(16777218), Truncate(a))
	assert.Equal(t, float32(16777220), Native(a).Float32())
	assert.NotEqual(t, Native(a), Int32ToFloat32(a))
	assert.Equal(t, uint32(1), ULPDistance(Native(a), Int32ToFloat32(a)))

	// Truncation never increases the magnitude.
	for _, a := range []int32{1<<24 + 3, 1<<30 + 127, -(1<<30 + 127), math.MaxInt32} {
		tr := float64(Truncate(a))
		assert.LessOrEqual(t, math.Abs(tr), math.Abs(float64(a)), "a=%d", a)
	}
}

func TestInt32ToFloat32_MinInt32(t *testing.T) {
	var got Bits
	require.NotPanics(t, func() { got = Int32ToFloat32(math.MinInt32) })

	assert.Equal(t, uint32(1), got.Sign())
	assert.Equal(t, uint32(Bias+31), got.Exponent())
	assert.Equal(t, uint32(0), got.Mantissa())
	assert.Equal(t, float32(-2147483648), got.Float32())
	assert.False(t, math.IsInf(float64(got.Float32()), 0))
}

func TestInt32ToFloat32_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a := int32(r.Uint32())
		assert.Equal(t, Int32ToFloat32(a), Int32ToFloat32(a))
	}
}

func TestInt32ToFloat32_ExponentMonotonic(t *testing.T) {
	for k := 0; k < 31; k++ {
		lo := int32(1) << k
		hi := int32((int64(1) << (k + 1)) - 1)

		assert.Equal(t, uint32(Bias+k), Int32ToFloat32(lo).Exponent(), "2^%d", k)
		assert.Equal(t, Int32ToFloat32(lo).Exponent(), Int32ToFloat32(hi).Exponent(), "bit length %d", k+1)
		if k < 30 {
			next := Int32ToFloat32(lo << 1).Exponent()
			assert.Equal(t, Int32ToFloat32(hi).Exponent()+1, next, "crossing 2^%d", k+1)
		}
	}
}

func TestInt32ToFloat32_MatchesBigFloat(t *testing.T) {
	// Negative inputs and the extremes are checked against math/big, which
	// rounds toward zero and to nearest even exactly as IEEE 754 defines.
	edges := []int32{
		0, 1, -1, math.MaxInt32, math.MinInt32, math.MinInt32 + 1,
		1 << 24, 1<<24 + 1, 1<<24 + 2, 1<<24 + 3,
		-(1 << 24), -(1<<24 + 1), -(1<<24 + 3),
		1<<30 + 1, -(1<<30 + 65), 1<<31 - 129, 1<<31 - 128,
	}
	for _, a := range edges {
		assert.Equal(t, referenceBits(a, big.ToZero), Int32ToFloat32(a), "truncated a=%d", a)
		assert.Equal(t, referenceBits(a, big.ToNearestEven), Native(a), "native a=%d", a)
	}

	r := rand.New(rand.NewSource(2024))
	for i := 0; i < 200000; i++ {
		a := int32(r.Uint32()) >> (i & 31)
		want := referenceBits(a, big.ToZero)
		if got := Int32ToFloat32(a); got != want {
			t.Fatalf("a=%d: got %v, want %v", a, got, want)
		}
	}
}

func TestBitsFields(t *testing.T) {
	b := Bits(0xC0490FDB)
	assert.Equal(t, uint32(1), b.Sign())
	assert.Equal(t, uint32(0x80), b.Exponent())
	assert.Equal(t, uint32(0x490FDB), b.Mantissa())
	assert.Equal(t, "0xC0490FDB", b.String())
}

func TestULPDistance(t *testing.T) {
	assert.Equal(t, uint32(0), ULPDistance(0x4B800000, 0x4B800000))
	assert.Equal(t, uint32(3), ULPDistance(0x4B800000, 0x4B800003))
	assert.Equal(t, uint32(3), ULPDistance(0x4B800003, 0x4B800000))
}

func BenchmarkInt32ToFloat32(b *testing.B) {
	var sink Bits
	for i := 0; i < b.N; i++ {
		sink ^= Int32ToFloat32(int32(i))
	}
	_ = sink
}
