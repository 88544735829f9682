package fhe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

func compute(t *testing.T, op fhe.Op, typ fhe.Type, args ...uint64) uint64 {
	t.Helper()
	out := typ
	if op.IsComparison() {
		out = fhe.Bool
	}
	r, err := fhe.Compute(op, typ, out, args...)
	require.NoError(t, err)
	return r
}

func TestCompute_Wraparound(t *testing.T) {
	const max32 = 0xFFFFFFFF

	assert.Equal(t, uint64(0), compute(t, fhe.OpAdd, fhe.Uint32, max32, 1))
	assert.Equal(t, uint64(max32), compute(t, fhe.OpSub, fhe.Uint32, 0, 1))
	assert.Equal(t, uint64(1), compute(t, fhe.OpMul, fhe.Uint32, max32, max32))
	assert.Equal(t, uint64(max32-1), compute(t, fhe.OpMul, fhe.Uint32, max32, 2))
	assert.Equal(t, uint64(0xFF), compute(t, fhe.OpAdd, fhe.Uint8, 0x1FF, 0))
}

func TestCompute_DivisionByZero(t *testing.T) {
	for _, typ := range []fhe.Type{fhe.Uint8, fhe.Uint16, fhe.Uint32, fhe.Uint64} {
		assert.Equal(t, typ.Mask(), compute(t, fhe.OpDiv, typ, 1234, 0), typ.String())
		assert.Equal(t, uint64(1234)&typ.Mask(), compute(t, fhe.OpRem, typ, 1234, 0), typ.String())
	}
	assert.Equal(t, uint64(3), compute(t, fhe.OpDiv, fhe.Uint32, 10, 3))
	assert.Equal(t, uint64(1), compute(t, fhe.OpRem, fhe.Uint32, 10, 3))
}

func TestCompute_Comparisons(t *testing.T) {
	tests := []struct {
		op   fhe.Op
		a, b uint64
		want uint64
	}{
		{fhe.OpEq, 5, 5, 1},
		{fhe.OpEq, 5, 6, 0},
		{fhe.OpNe, 5, 6, 1},
		{fhe.OpLt, 5, 6, 1},
		{fhe.OpLt, 6, 5, 0},
		{fhe.OpLe, 5, 5, 1},
		{fhe.OpGt, 0xFFFFFFFF, 0, 1},
		{fhe.OpGe, 0, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compute(t, tt.op, fhe.Uint32, tt.a, tt.b), "%s(%d, %d)", tt.op, tt.a, tt.b)
	}
}

func TestCompute_MinMaxSelect(t *testing.T) {
	assert.Equal(t, uint64(3), compute(t, fhe.OpMin, fhe.Uint32, 3, 9))
	assert.Equal(t, uint64(9), compute(t, fhe.OpMax, fhe.Uint32, 3, 9))
	assert.Equal(t, uint64(7), compute(t, fhe.OpSelect, fhe.Uint32, 1, 7, 8))
	assert.Equal(t, uint64(8), compute(t, fhe.OpSelect, fhe.Uint32, 0, 7, 8))
}

func TestCompute_BitwiseAndShifts(t *testing.T) {
	assert.Equal(t, uint64(0xFFFFFFF0), compute(t, fhe.OpNot, fhe.Uint32, 0xF))
	assert.Equal(t, uint64(0xFFFFFFFF), compute(t, fhe.OpNeg, fhe.Uint32, 1))
	assert.Equal(t, uint64(0x10), compute(t, fhe.OpShl, fhe.Uint32, 1, 36))
	assert.Equal(t, uint64(0x6), compute(t, fhe.OpXor, fhe.Uint32, 0x5, 0x3))
}

func TestCompute_Cast(t *testing.T) {
	r, err := fhe.Compute(fhe.OpCast, fhe.Uint64, fhe.Uint32, 0x1_0000_0002)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r)

	r, err = fhe.Compute(fhe.OpCast, fhe.Uint32, fhe.Bool, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r)
}

func TestCompute_Arity(t *testing.T) {
	_, err := fhe.Compute(fhe.OpAdd, fhe.Uint32, fhe.Uint32, 1)
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	typ, err := fhe.ParseType("euint32")
	require.NoError(t, err)
	assert.Equal(t, fhe.Uint32, typ)

	typ, err = fhe.ParseType("bool")
	require.NoError(t, err)
	assert.Equal(t, fhe.Bool, typ)

	_, err = fhe.ParseType("euint128")
	assert.ErrorIs(t, err, fhe.ErrTypeMismatch)
}
