package fhe

import (
	"math/bits"

	"github.com/pkg/errors"
)

// Compute evaluates op on plaintext arguments. Runtimes call it for every
// operation they cannot evaluate homomorphically. in is the width of the
// value arguments, out the width of the result. All arithmetic wraps modulo
// 2^bits and no path branches on argument values.
//
// Select takes (cond, a, b). Cast takes a single argument; casting to Bool
// yields 1 for any non-zero value.
func Compute(op Op, in, out Type, args ...uint64) (uint64, error) {
	if len(args) != op.Arity() {
		return 0, errors.Errorf("%s takes %d arguments, got %d", op, op.Arity(), len(args))
	}
	m := in.Mask()
	a := make([]uint64, len(args))
	for i, v := range args {
		a[i] = v & m
	}
	if op == OpSelect {
		a[0] = args[0] & 1
	}
	args = a

	var r uint64
	switch op {
	case OpAdd:
		r = args[0] + args[1]
	case OpSub:
		r = args[0] - args[1]
	case OpMul:
		r = args[0] * args[1]
	case OpDiv:
		r = div(args[0], args[1], m)
	case OpRem:
		r = rem(args[0], args[1])
	case OpAnd:
		r = args[0] & args[1]
	case OpOr:
		r = args[0] | args[1]
	case OpXor:
		r = args[0] ^ args[1]
	case OpNot:
		r = ^args[0]
	case OpNeg:
		r = -args[0]
	case OpShl:
		r = args[0] << (args[1] % uint64(in.Bits()))
	case OpShr:
		r = args[0] >> (args[1] % uint64(in.Bits()))
	case OpEq:
		r = eq(args[0], args[1])
	case OpNe:
		r = eq(args[0], args[1]) ^ 1
	case OpLt:
		r = lt(args[0], args[1])
	case OpLe:
		r = lt(args[1], args[0]) ^ 1
	case OpGt:
		r = lt(args[1], args[0])
	case OpGe:
		r = lt(args[0], args[1]) ^ 1
	case OpMin:
		r = blend(lt(args[0], args[1]), args[0], args[1])
	case OpMax:
		r = blend(lt(args[1], args[0]), args[0], args[1])
	case OpSelect:
		r = blend(args[0], args[1], args[2])
	case OpCast:
		r = args[0]
		if out == Bool {
			r = isZero(r) ^ 1
		}
	default:
		return 0, errors.Errorf("unsupported operation %d", op)
	}
	return r & out.Mask(), nil
}

// blend is b + cond*(a-b): a when cond is 1, b when cond is 0.
func blend(cond, a, b uint64) uint64 {
	return b + cond*(a-b)
}

func isZero(x uint64) uint64 {
	return ((x | -x) >> 63) ^ 1
}

func eq(a, b uint64) uint64 {
	return isZero(a ^ b)
}

func lt(a, b uint64) uint64 {
	_, borrow := bits.Sub64(a, b, 0)
	return borrow
}

// div returns mask for a zero divisor.
func div(a, b, mask uint64) uint64 {
	z := isZero(b)
	q := a / (b | z)
	return (q | -z) & mask
}

// rem returns the dividend for a zero divisor.
func rem(a, b uint64) uint64 {
	z := isZero(b)
	r := a % (b | z)
	return r ^ ((r ^ a) & -z)
}
