package loan

import (
	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// circuit chains engine calls. The first error short-circuits every later
// call, and every handle it produces is tracked so one release drops all
// intermediates.
type circuit struct {
	e     *fhe.Engine
	temps []fhe.Handle
	err   error
}

func newCircuit(e *fhe.Engine) *circuit {
	return &circuit{e: e}
}

func (c *circuit) do(f func() (fhe.Handle, error)) fhe.Handle {
	if c.err != nil {
		return fhe.NilHandle
	}
	h, err := f()
	if err != nil {
		c.err = err
		return fhe.NilHandle
	}
	c.temps = append(c.temps, h)
	return h
}

func (c *circuit) add(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Add(a, b) })
}

func (c *circuit) sub(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Sub(a, b) })
}

func (c *circuit) mul(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Mul(a, b) })
}

func (c *circuit) div(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Div(a, b) })
}

func (c *circuit) min(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Min(a, b) })
}

func (c *circuit) eq(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Eq(a, b) })
}

func (c *circuit) gt(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Gt(a, b) })
}

func (c *circuit) ge(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Ge(a, b) })
}

func (c *circuit) le(a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Le(a, b) })
}

func (c *circuit) sel(cond, a, b fhe.Operand) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Select(cond, a, b) })
}

func (c *circuit) cast(a fhe.Operand, t fhe.Type) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Cast(a, t) })
}

func (c *circuit) powFixed(base, exp fhe.Operand, bound int, scale uint64) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.PowFixed(base, exp, bound, scale) })
}

func (c *circuit) clone(h fhe.Handle) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Store().Clone(h) })
}

func (c *circuit) const64(v uint64) fhe.Handle {
	return c.do(func() (fhe.Handle, error) { return c.e.Encrypt(v, fhe.Uint64) })
}

// detach stops tracking hs; the caller owns them from now on.
func (c *circuit) detach(hs ...fhe.Handle) {
	for _, h := range hs {
		for i := len(c.temps) - 1; i >= 0; i-- {
			if c.temps[i] == h {
				c.temps = append(c.temps[:i], c.temps[i+1:]...)
				break
			}
		}
	}
}

// releaseFrom discards the handles produced since mark.
func (c *circuit) releaseFrom(mark int) {
	if mark > len(c.temps) {
		return
	}
	c.discard(c.temps[mark:]...)
	c.temps = c.temps[:mark]
}

func (c *circuit) release() {
	c.releaseFrom(0)
}

func (c *circuit) discard(hs ...fhe.Handle) {
	for _, h := range hs {
		if h == fhe.NilHandle {
			continue
		}
		// Already gone is fine: the handle was released elsewhere.
		_ = c.e.Discard(h)
	}
}

func cph(h fhe.Handle) fhe.Operand { return fhe.Cipher(h) }
func lit(v uint64) fhe.Operand { return fhe.Plain(v) }
