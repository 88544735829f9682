package loan

import (
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// Analytic names accepted by Analyze.
const (
	AnalyticInterestSavings    = "interest-savings"
	AnalyticTotalCost          = "total-cost"
	AnalyticMonthsSaved        = "months-saved"
	AnalyticAffordability      = "affordability"
	AnalyticDebtToIncome       = "debt-to-income"
	AnalyticPaymentShockRisk   = "payment-shock-risk"
	AnalyticRefinancingBenefit = "refinancing-benefit"
	AnalyticLoanToValue        = "loan-to-value"
)

const (
	// share of monthly income a payment may take, in percent
	affordableShare = 28
	// payment increase treated as a shock, in percent of the current payment
	shockThreshold = 130
	basisPoints    = 10_000
)

// Analyze dispatches an analytic by name. arg is ignored by the analytics
// that take no input.
func (l *Ledger) Analyze(id uint64, name string, arg fhe.Operand) (fhe.Handle, error) {
	switch name {
	case AnalyticInterestSavings:
		return l.InterestSavings(id)
	case AnalyticTotalCost:
		return l.TotalCost(id)
	case AnalyticMonthsSaved:
		return l.MonthsSaved(id)
	case AnalyticAffordability:
		return l.Affordability(id, arg)
	case AnalyticDebtToIncome:
		return l.DebtToIncome(id, arg)
	case AnalyticPaymentShockRisk:
		return l.PaymentShockRisk(id, arg)
	case AnalyticRefinancingBenefit:
		return l.RefinancingBenefit(id, arg)
	case AnalyticLoanToValue:
		return l.LoanToValue(id, arg)
	}
	return fhe.NilHandle, errors.Wrapf(ErrUnknownAnalytic, "%q", name)
}

// AnalyzeFor runs Analyze for caller. A ciphertext argument must be owned
// by the caller, and the result is granted to the caller so it can be read
// and discarded. Results are never accepted as loan inputs.
func (l *Ledger) AnalyzeFor(caller Caller, id uint64, name string, arg fhe.Operand) (fhe.Handle, error) {
	if caller.Address == "" {
		return fhe.NilHandle, errors.Wrap(ErrUnauthorized, "empty caller address")
	}
	if !arg.IsPlain() && arg.Handle() != fhe.NilHandle {
		acl, err := l.engine.Store().Access(arg.Handle())
		if err != nil {
			return fhe.NilHandle, err
		}
		if acl.Owner != caller.Address {
			return fhe.NilHandle, errors.Wrapf(ErrUnauthorized, "%s does not own %s", caller.Address, arg.Handle())
		}
	}
	h, err := l.Analyze(id, name, arg)
	if err != nil {
		return fhe.NilHandle, err
	}
	if err := l.engine.Store().Grant(h, caller.Address); err != nil {
		_ = l.engine.Discard(h)
		return fhe.NilHandle, err
	}
	return h, nil
}

// NeedsArgument reports whether the analytic takes an input value.
func NeedsArgument(name string) bool {
	switch name {
	case AnalyticAffordability, AnalyticDebtToIncome, AnalyticPaymentShockRisk,
		AnalyticRefinancingBenefit, AnalyticLoanToValue:
		return true
	}
	return false
}

// InterestSavings is the interest, in cents, the extra payment saves over
// paying the plain instalment for the full term.
func (l *Ledger) InterestSavings(id uint64) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		t := c.widen(ln)
		payment := c.cast(cph(s.MonthlyPayment), fhe.Uint64)
		baseline, months, err := c.simulate(t, payment, l.maxTerm)
		if err != nil {
			return fhe.NilHandle
		}
		defer c.discard(baseline, months)

		paid := c.cast(cph(s.TotalInterest), fhe.Uint64)
		saved := c.sel(cph(c.gt(cph(baseline), cph(paid))), cph(c.sub(cph(baseline), cph(paid))), lit(0))
		return c.narrow(saved)
	})
}

// TotalCost is principal plus total interest, in cents.
func (l *Ledger) TotalCost(id uint64) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		p := c.mul(cph(c.cast(cph(ln.Principal), fhe.Uint64)), lit(centsPerUnit))
		return c.narrow(c.add(cph(p), cph(c.cast(cph(s.TotalInterest), fhe.Uint64))))
	})
}

// MonthsSaved is the term minus the payoff time, or zero.
func (l *Ledger) MonthsSaved(id uint64) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		early := c.gt(cph(ln.Term), cph(s.PayoffTime))
		diff := c.sub(cph(ln.Term), cph(s.PayoffTime))
		out := c.sel(cph(early), cph(diff), lit(0))
		c.detach(out)
		return out
	})
}

// Affordability is true when the monthly payment is at most 28% of the
// monthly income, given in whole units.
func (l *Ledger) Affordability(id uint64, income fhe.Operand) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		limit := c.mul(cph(c.widenOperand(income)), lit(affordableShare))
		out := c.le(cph(c.cast(cph(s.MonthlyPayment), fhe.Uint64)), cph(limit))
		c.detach(out)
		return out
	})
}

// DebtToIncome is the monthly payment over the monthly income in basis
// points. A zero income yields the Uint32 maximum, like any division by an
// encrypted zero.
func (l *Ledger) DebtToIncome(id uint64, income fhe.Operand) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		// cents * 10000 / (units * 100)
		num := c.mul(cph(c.cast(cph(s.MonthlyPayment), fhe.Uint64)), lit(basisPoints/centsPerUnit))
		return c.narrow(c.div(cph(num), cph(c.widenOperand(income))))
	})
}

// PaymentShockRisk is true when the monthly payment exceeds the current
// payment, in whole units, by more than 30%.
func (l *Ledger) PaymentShockRisk(id uint64, current fhe.Operand) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		// units * 100 cents * 130 / 100
		limit := c.mul(cph(c.widenOperand(current)), lit(shockThreshold))
		out := c.gt(cph(c.cast(cph(s.MonthlyPayment), fhe.Uint64)), cph(limit))
		c.detach(out)
		return out
	})
}

// RefinancingBenefit is the saving, in cents over the full term, of
// refinancing at newRate basis points, or zero if it would cost more.
func (l *Ledger) RefinancingBenefit(id uint64, newRate fhe.Operand) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		t := c.widen(ln)
		refinanced := c.annuity(t.principal, c.monthlyRate(cph(c.widenOperand(newRate))), t.term, l.maxTerm)
		current := c.cast(cph(s.MonthlyPayment), fhe.Uint64)
		gain := c.mul(cph(c.sub(cph(current), cph(refinanced))), cph(t.term))
		return c.narrow(c.sel(cph(c.gt(cph(current), cph(refinanced))), cph(gain), lit(0)))
	})
}

// LoanToValue is the principal over the property value in basis points. A
// zero value yields the Uint32 maximum.
func (l *Ledger) LoanToValue(id uint64, value fhe.Operand) (fhe.Handle, error) {
	return l.analytic(id, func(c *circuit, ln *Loan, s *Schedule) fhe.Handle {
		num := c.mul(cph(c.cast(cph(ln.Principal), fhe.Uint64)), lit(basisPoints))
		return c.narrow(c.div(cph(num), cph(c.widenOperand(value))))
	})
}

// widenOperand casts a Uint32 ciphertext operand to Uint64; literals are
// promoted directly.
func (c *circuit) widenOperand(o fhe.Operand) fhe.Handle {
	if o.IsPlain() {
		return c.const64(o.Value() & fhe.Uint32.Mask())
	}
	return c.cast(o, fhe.Uint64)
}

// analytic runs f over a calculated loan. f returns a handle it has
// detached from the circuit; everything else is released.
func (l *Ledger) analytic(id uint64, f func(c *circuit, ln *Loan, s *Schedule) fhe.Handle) (fhe.Handle, error) {
	ln, s, err := l.calculated(id)
	if err != nil {
		return fhe.NilHandle, err
	}

	c := newCircuit(l.engine)
	defer c.release()
	out := f(c, &ln, &s)
	if c.err != nil {
		c.discard(out)
		return fhe.NilHandle, errors.Wrapf(c.err, "analytics for loan %d", id)
	}
	return out, nil
}
