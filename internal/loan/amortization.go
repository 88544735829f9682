package loan

import (
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

const (
	// Scale is the fixed-point scale of monthly rates and compound factors.
	Scale = 1_000_000

	// MaxCents is the largest amount a Uint32 result can carry. Amounts in
	// cents above it saturate to MaxCents when narrowed.
	MaxCents = 0xFFFFFFFF

	// DefaultMaxTermMonths bounds the compound factor chain and the payoff
	// simulation.
	DefaultMaxTermMonths = 600

	// basis points per year to a monthly fraction: 12 * 10000
	rateDivisor  = 120_000
	centsPerUnit = 100
)

// terms are the loan inputs widened to Uint64 with the derived monthly rate.
type terms struct {
	principal fhe.Handle // cents
	rate      fhe.Handle // monthly, scaled by Scale
	term      fhe.Handle
	extra     fhe.Handle // cents
}

func (c *circuit) widen(l *Loan) terms {
	p := c.cast(cph(l.Principal), fhe.Uint64)
	r := c.cast(cph(l.InterestRate), fhe.Uint64)
	x := c.cast(cph(l.ExtraPayment), fhe.Uint64)
	return terms{
		principal: c.mul(cph(p), lit(centsPerUnit)),
		rate:      c.monthlyRate(cph(r)),
		term:      c.cast(cph(l.Term), fhe.Uint64),
		extra:     c.mul(cph(x), lit(centsPerUnit)),
	}
}

// monthlyRate turns a Uint64 annual rate in basis points into a scaled
// monthly rate.
func (c *circuit) monthlyRate(bps fhe.Operand) fhe.Handle {
	return c.div(cph(c.mul(bps, lit(Scale))), lit(rateDivisor))
}

// annuity is the level monthly payment in cents:
//
//	P * m * F / (F - 1),  F = (1 + m)^n
//
// evaluated as (P*m/S) * (F*S/(F-S)) / S on scaled values. A zero rate
// falls back to P/n and a zero term yields 0; both guards are selects so the
// cost is the same for every input.
func (c *circuit) annuity(principal, rate, term fhe.Handle, bound int) fhe.Handle {
	factor := c.powFixed(cph(c.add(cph(rate), lit(Scale))), cph(term), bound, Scale)
	ratio := c.div(cph(c.mul(cph(factor), lit(Scale))), cph(c.sub(cph(factor), lit(Scale))))
	interest := c.div(cph(c.mul(cph(principal), cph(rate))), lit(Scale))
	amortized := c.div(cph(c.mul(cph(interest), cph(ratio))), lit(Scale))

	flat := c.div(cph(principal), cph(term))
	payment := c.sel(cph(c.eq(cph(rate), lit(0))), cph(flat), cph(amortized))
	return c.sel(cph(c.eq(cph(term), lit(0))), lit(0), cph(payment))
}

// simulate runs the month-by-month payoff for bound months and returns the
// interest paid and the number of months with an outstanding balance. The
// instalment is capped by what is owed and the month the term ends settles
// the remainder. The returned handles are detached from c.
func (c *circuit) simulate(t terms, instalment fhe.Handle, bound int) (interest, months fhe.Handle, err error) {
	balance := c.clone(t.principal)
	interest = c.const64(0)
	months = c.const64(0)
	c.detach(balance, interest, months)
	defer func() {
		if err != nil {
			c.discard(balance, interest, months)
			interest, months = fhe.NilHandle, fhe.NilHandle
		}
	}()

	for i := 1; i <= bound && c.err == nil; i++ {
		mark := len(c.temps)

		active := c.gt(cph(balance), lit(0))
		accrued := c.div(cph(c.mul(cph(balance), cph(t.rate))), lit(Scale))
		owed := c.add(cph(balance), cph(accrued))
		paid := c.min(cph(instalment), cph(owed))
		last := c.le(cph(t.term), lit(uint64(i)))
		paid = c.sel(cph(last), cph(owed), cph(paid))

		nextBalance := c.sub(cph(owed), cph(paid))
		nextInterest := c.add(cph(interest), cph(accrued))
		nextMonths := c.add(cph(months), cph(c.cast(cph(active), fhe.Uint64)))

		c.detach(nextBalance, nextInterest, nextMonths)
		c.releaseFrom(mark)
		c.discard(balance, interest, months)
		balance, interest, months = nextBalance, nextInterest, nextMonths
	}
	c.discard(balance)
	balance = fhe.NilHandle
	if c.err != nil {
		return fhe.NilHandle, fhe.NilHandle, errors.Wrap(c.err, "payoff simulation")
	}
	return interest, months, nil
}

// narrow saturates a Uint64 result at MaxCents, casts it back to the loan
// width and detaches it.
func (c *circuit) narrow(h fhe.Handle) fhe.Handle {
	out := c.cast(cph(c.min(cph(h), lit(MaxCents))), fhe.Uint32)
	c.detach(out)
	return out
}

// amortize computes the schedule of l. bound must not exceed the engine's
// maximum exponent.
func amortize(e *fhe.Engine, l *Loan, bound int) (s Schedule, err error) {
	c := newCircuit(e)
	defer c.release()

	t := c.widen(l)
	payment := c.annuity(t.principal, t.rate, t.term, bound)
	instalment := c.add(cph(payment), cph(t.extra))
	if c.err != nil {
		return Schedule{}, errors.Wrap(c.err, "monthly payment")
	}

	interest, months, err := c.simulate(t, instalment, bound)
	if err != nil {
		return Schedule{}, err
	}
	defer c.discard(interest, months)

	zeroTerm := c.eq(cph(t.term), lit(0))
	s = Schedule{
		MonthlyPayment: c.narrow(payment),
		TotalInterest:  c.narrow(c.sel(cph(zeroTerm), lit(0), cph(interest))),
		PayoffTime:     c.narrow(c.sel(cph(zeroTerm), lit(0), cph(months))),
	}
	if c.err != nil {
		c.discard(s.handles()...)
		return Schedule{}, errors.Wrap(c.err, "narrow schedule")
	}
	return s, nil
}
