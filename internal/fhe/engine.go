package fhe

import (
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/logger"
)

// DefaultMaxExponent bounds the multiplication chain of Pow.
const DefaultMaxExponent = 600

// Engine evaluates homomorphic operations on handles of a Store. It is safe
// for concurrent use; calls are synchronous.
type Engine struct {
	store       *Store
	maxExponent int
	log         *logger.Logger
}

// NewEngine returns an engine over store. maxExponent <= 0 selects
// DefaultMaxExponent.
func NewEngine(store *Store, maxExponent int, log *logger.Logger) *Engine {
	if maxExponent <= 0 {
		maxExponent = DefaultMaxExponent
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store:       store,
		maxExponent: maxExponent,
		log:         log.WithField("component", "engine"),
	}
}

func (e *Engine) Store() *Store { return e.store }
func (e *Engine) MaxExponent() int { return e.maxExponent }
func (e *Engine) Runtime() Runtime { return e.store.rt }
func (e *Engine) Policy() Policy { return e.store.policy }

// Encrypt is Store.Encrypt.
func (e *Engine) Encrypt(v uint64, t Type) (Handle, error) {
	return e.store.Encrypt(v, t)
}

// EncryptFor is Store.EncryptFor.
func (e *Engine) EncryptFor(owner string, v uint64, t Type) (Handle, error) {
	return e.store.EncryptFor(owner, v, t)
}

// Discard is Store.Discard.
func (e *Engine) Discard(h Handle) error {
	return e.store.Discard(h)
}

func (e *Engine) Add(a, b Operand) (Handle, error) { return e.binary(OpAdd, a, b) }
func (e *Engine) Sub(a, b Operand) (Handle, error) { return e.binary(OpSub, a, b) }
func (e *Engine) Mul(a, b Operand) (Handle, error) { return e.binary(OpMul, a, b) }

// Div is truncating unsigned division. An encrypted zero divisor yields the
// maximum value of the type instead of an error.
func (e *Engine) Div(a, b Operand) (Handle, error) { return e.binary(OpDiv, a, b) }

// Rem is the unsigned remainder. An encrypted zero divisor yields a.
func (e *Engine) Rem(a, b Operand) (Handle, error) { return e.binary(OpRem, a, b) }

func (e *Engine) And(a, b Operand) (Handle, error) { return e.binary(OpAnd, a, b) }
func (e *Engine) Or(a, b Operand) (Handle, error) { return e.binary(OpOr, a, b) }
func (e *Engine) Xor(a, b Operand) (Handle, error) { return e.binary(OpXor, a, b) }

// Shl and Shr take the shift amount modulo the bit width.
func (e *Engine) Shl(a, b Operand) (Handle, error) { return e.binary(OpShl, a, b) }
func (e *Engine) Shr(a, b Operand) (Handle, error) { return e.binary(OpShr, a, b) }

func (e *Engine) Eq(a, b Operand) (Handle, error) { return e.binary(OpEq, a, b) }
func (e *Engine) Ne(a, b Operand) (Handle, error) { return e.binary(OpNe, a, b) }
func (e *Engine) Lt(a, b Operand) (Handle, error) { return e.binary(OpLt, a, b) }
func (e *Engine) Le(a, b Operand) (Handle, error) { return e.binary(OpLe, a, b) }
func (e *Engine) Gt(a, b Operand) (Handle, error) { return e.binary(OpGt, a, b) }
func (e *Engine) Ge(a, b Operand) (Handle, error) { return e.binary(OpGe, a, b) }

func (e *Engine) Min(a, b Operand) (Handle, error) { return e.binary(OpMin, a, b) }
func (e *Engine) Max(a, b Operand) (Handle, error) { return e.binary(OpMax, a, b) }

func (e *Engine) Not(a Operand) (Handle, error) { return e.unary(OpNot, a) }
func (e *Engine) Neg(a Operand) (Handle, error) { return e.unary(OpNeg, a) }

// Cast converts a ciphertext to another width, truncating when narrowing.
func (e *Engine) Cast(a Operand, to Type) (Handle, error) {
	if !to.Valid() {
		return NilHandle, errors.Wrapf(ErrTypeMismatch, "cast to %s", to)
	}
	t, err := e.widthOf(Uint32, a)
	if err != nil {
		return NilHandle, err
	}
	return e.eval(OpCast, t, to, []Operand{a}, []Type{t})
}

// Select is the encrypted multiplexer: a when cond encrypts true, else b.
// cond must be a Bool; a and b must share a width.
func (e *Engine) Select(cond, a, b Operand) (Handle, error) {
	ct, err := e.widthOf(Bool, cond)
	if err != nil {
		return NilHandle, err
	}
	if ct != Bool {
		return NilHandle, errors.Wrapf(ErrTypeMismatch, "select condition is %s", ct)
	}
	t, err := e.widthOf(Uint32, a, b)
	if err != nil {
		return NilHandle, err
	}
	return e.eval(OpSelect, t, t, []Operand{cond, a, b}, []Type{Bool, t, t})
}

// Bootstrap returns a new handle encrypting the same value as h with a fresh
// noise budget.
func (e *Engine) Bootstrap(h Handle) (Handle, error) {
	nh, err := e.store.bootstrap(h)
	if err != nil {
		return NilHandle, err
	}
	e.log.Debug().Str("handle", h.String()).Str("result", nh.String()).Msg("bootstrap")
	return nh, nil
}

// Pow raises base to an encrypted exponent. bound caps the exponent and
// fixes the length of the multiply/select chain, so the cost does not depend
// on the secret; exponents above bound are clamped to it.
func (e *Engine) Pow(base, exp Operand, bound int) (Handle, error) {
	return e.pow(base, exp, bound, 0)
}

// PowFixed is Pow over fixed-point values with the given scale: the
// accumulator starts at scale and every product is divided by scale.
func (e *Engine) PowFixed(base, exp Operand, bound int, scale uint64) (Handle, error) {
	if scale == 0 {
		return NilHandle, errors.New("fixed-point scale must be positive")
	}
	return e.pow(base, exp, bound, scale)
}

func (e *Engine) pow(base, exp Operand, bound int, scale uint64) (Handle, error) {
	if bound <= 0 || bound > e.maxExponent {
		return NilHandle, errors.Wrapf(ErrUnboundedExponent, "bound %d outside (0, %d]", bound, e.maxExponent)
	}
	if _, err := e.widthOf(Uint32, base, exp); err != nil {
		return NilHandle, err
	}

	one := uint64(1)
	if scale != 0 {
		one = scale
	}
	acc, err := e.identity(base, exp, one)
	if err != nil {
		return NilHandle, err
	}

	for i := 1; i <= bound; i++ {
		next, err := e.powStep(acc, base, exp, uint64(i), scale)
		e.release(acc)
		if err != nil {
			return NilHandle, errors.Wrapf(err, "pow step %d", i)
		}
		acc = next
	}
	return acc, nil
}

// identity encrypts one at the width of the ciphertext operands.
func (e *Engine) identity(base, exp Operand, one uint64) (Handle, error) {
	t, err := e.widthOf(Uint32, base, exp)
	if err != nil {
		return NilHandle, err
	}
	payload, err := e.store.rt.TrivialEncrypt(one&t.Mask(), t)
	if err != nil {
		return NilHandle, errors.Wrap(err, "trivial encrypt")
	}
	return e.store.put(t, payload, e.store.policy.Fresh, ""), nil
}

// powStep computes select(i <= exp, acc*base [/scale], acc).
func (e *Engine) powStep(acc Handle, base, exp Operand, i, scale uint64) (Handle, error) {
	cond, err := e.Le(Plain(i), exp)
	if err != nil {
		return NilHandle, err
	}
	defer e.release(cond)

	prod, err := e.Mul(Cipher(acc), base)
	if err != nil {
		return NilHandle, err
	}
	defer e.release(prod)

	if scale != 0 {
		scaled, err := e.Div(Cipher(prod), Plain(scale))
		if err != nil {
			return NilHandle, err
		}
		defer e.release(scaled)
		prod = scaled
	}
	return e.Select(Cipher(cond), Cipher(prod), Cipher(acc))
}

func (e *Engine) release(hs ...Handle) {
	for _, h := range hs {
		if err := e.store.Discard(h); err != nil {
			e.log.Warn().Err(err).Msg("discard intermediate")
		}
	}
}

func (e *Engine) unary(op Op, a Operand) (Handle, error) {
	t, err := e.widthOf(Uint32, a)
	if err != nil {
		return NilHandle, err
	}
	return e.eval(op, t, t, []Operand{a}, []Type{t})
}

func (e *Engine) binary(op Op, a, b Operand) (Handle, error) {
	t, err := e.widthOf(Uint32, a, b)
	if err != nil {
		return NilHandle, err
	}
	out := t
	if op.IsComparison() {
		out = Bool
	}
	return e.eval(op, t, out, []Operand{a, b}, []Type{t, t})
}

// widthOf returns the shared width of the ciphertext operands, or def when
// all of them are literals.
func (e *Engine) widthOf(def Type, ops ...Operand) (Type, error) {
	var (
		t     Type
		found bool
	)
	for _, o := range ops {
		if o.IsPlain() {
			continue
		}
		ot, err := e.store.Type(o.Handle())
		if err != nil {
			return 0, err
		}
		if found && ot != t {
			return 0, errors.Wrapf(ErrTypeMismatch, "%s vs %s", t, ot)
		}
		t, found = ot, true
	}
	if !found {
		return def, nil
	}
	return t, nil
}

// eval resolves operands to payloads, runs op on the runtime and stores the
// result. types gives the width each operand is promoted to.
func (e *Engine) eval(op Op, in, out Type, ops []Operand, types []Type) (Handle, error) {
	policy := e.store.policy
	cost := policy.Cost(op)

	payloads := make([][]byte, len(ops))
	budget := policy.Fresh
	for i, o := range ops {
		if o.IsPlain() {
			p, err := e.store.rt.TrivialEncrypt(o.Value()&types[i].Mask(), types[i])
			if err != nil {
				return NilHandle, errors.Wrap(err, "trivial encrypt")
			}
			payloads[i] = p
			continue
		}

		snap, refreshed, err := e.store.snapshot(o.Handle(), cost)
		if err != nil {
			return NilHandle, errors.Wrapf(err, "%s operand %d", op, i)
		}
		if snap.typ != types[i] {
			return NilHandle, errors.Wrapf(ErrTypeMismatch, "%s operand %d is %s, want %s", op, i, snap.typ, types[i])
		}
		if refreshed {
			e.log.Debug().Str("op", op.String()).Str("handle", o.Handle().String()).Msg("operand refreshed")
		}
		payloads[i] = snap.payload
		budget = min(budget, snap.budget)
	}

	result, err := e.store.rt.Eval(op, in, out, payloads...)
	if err != nil {
		return NilHandle, errors.Wrapf(err, "evaluate %s", op)
	}
	return e.store.put(out, result, budget-cost, ""), nil
}
