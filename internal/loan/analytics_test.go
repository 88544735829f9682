package loan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
)

func TestAnalytics_NotCalculated(t *testing.T) {
	fx := newFixture(t)
	id := fx.submit(t, 10000, 500, 36, 0)

	for _, name := range []string{
		loan.AnalyticInterestSavings, loan.AnalyticTotalCost, loan.AnalyticMonthsSaved,
		loan.AnalyticAffordability, loan.AnalyticDebtToIncome, loan.AnalyticPaymentShockRisk,
		loan.AnalyticRefinancingBenefit, loan.AnalyticLoanToValue,
	} {
		_, err := fx.ledger.Analyze(id, name, fhe.Plain(1))
		assert.ErrorIs(t, err, loan.ErrNotCalculated, name)
	}

	_, err := fx.ledger.TotalCost(77)
	assert.ErrorIs(t, err, loan.ErrLoanNotFound)
}

func TestAnalytics_Values(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	withExtra := fx.submit(t, 10000, 500, 36, 50)
	plain := fx.submit(t, 10000, 500, 36, 0)
	require.NoError(t, fx.ledger.CalculateAmortization(ctx, advisor, withExtra))
	require.NoError(t, fx.ledger.CalculateAmortization(ctx, advisor, plain))

	income, err := fx.engine.Encrypt(2000, fhe.Uint32)
	require.NoError(t, err)

	tests := []struct {
		name string
		loan uint64
		arg  fhe.Operand
		want uint64
	}{
		{loan.AnalyticInterestSavings, withExtra, fhe.Operand{}, 78915 - 66975},
		{loan.AnalyticInterestSavings, plain, fhe.Operand{}, 0},
		{loan.AnalyticTotalCost, withExtra, fhe.Operand{}, 1_000_000 + 66975},
		{loan.AnalyticMonthsSaved, withExtra, fhe.Operand{}, 5},
		{loan.AnalyticMonthsSaved, plain, fhe.Operand{}, 0},
		{loan.AnalyticAffordability, plain, fhe.Plain(1000), 0},
		{loan.AnalyticAffordability, plain, fhe.Cipher(income), 1},
		{loan.AnalyticDebtToIncome, plain, fhe.Cipher(income), 29973 * 100 / 2000},
		{loan.AnalyticDebtToIncome, plain, fhe.Plain(0), 0xFFFFFFFF},
		{loan.AnalyticPaymentShockRisk, plain, fhe.Plain(200), 1},
		{loan.AnalyticPaymentShockRisk, plain, fhe.Plain(250), 0},
		{loan.AnalyticRefinancingBenefit, plain, fhe.Plain(300), (29973 - 29086) * 36},
		{loan.AnalyticRefinancingBenefit, plain, fhe.Plain(900), 0},
		{loan.AnalyticLoanToValue, plain, fhe.Plain(20000), 5000},
		{loan.AnalyticLoanToValue, plain, fhe.Plain(0), 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := fx.ledger.Analyze(tt.loan, tt.name, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fx.reveal(t, h))
		})
	}
}

func TestTotalCost_Saturates(t *testing.T) {
	fx := newFixture(t)
	id := fx.submit(t, 50_000_000, 0, 1, 0)
	require.NoError(t, fx.ledger.CalculateAmortization(context.Background(), advisor, id))

	h, err := fx.ledger.TotalCost(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(loan.MaxCents), fx.reveal(t, h))
}

func TestAnalytics_ResultTypes(t *testing.T) {
	fx := newFixture(t)
	id := fx.submit(t, 10000, 500, 36, 0)
	require.NoError(t, fx.ledger.CalculateAmortization(context.Background(), advisor, id))

	h, err := fx.ledger.Affordability(id, fhe.Plain(5000))
	require.NoError(t, err)
	typ, err := fx.engine.Store().Type(h)
	require.NoError(t, err)
	assert.Equal(t, fhe.Bool, typ)

	h, err = fx.ledger.TotalCost(id)
	require.NoError(t, err)
	typ, err = fx.engine.Store().Type(h)
	require.NoError(t, err)
	assert.Equal(t, fhe.Uint32, typ)

	_, err = fx.ledger.Analyze(id, "net-present-value", fhe.Operand{})
	assert.ErrorIs(t, err, loan.ErrUnknownAnalytic)
	assert.True(t, loan.NeedsArgument(loan.AnalyticLoanToValue))
	assert.False(t, loan.NeedsArgument(loan.AnalyticTotalCost))
}

func TestAnalyzeFor_Access(t *testing.T) {
	fx := newFixture(t)
	id := fx.submit(t, 10000, 500, 36, 0)
	require.NoError(t, fx.ledger.CalculateAmortization(context.Background(), advisor, id))

	income, err := fx.engine.EncryptFor(advisor.Address, 2000, fhe.Uint32)
	require.NoError(t, err)

	_, err = fx.ledger.AnalyzeFor(borrower, id, loan.AnalyticAffordability, fhe.Cipher(income))
	assert.ErrorIs(t, err, loan.ErrUnauthorized)
	_, err = fx.ledger.AnalyzeFor(loan.Caller{}, id, loan.AnalyticTotalCost, fhe.Operand{})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	h, err := fx.ledger.AnalyzeFor(advisor, id, loan.AnalyticAffordability, fhe.Cipher(income))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fx.reveal(t, h))

	acl, err := fx.engine.Store().Access(h)
	require.NoError(t, err)
	assert.Equal(t, fhe.ACL{Owner: advisor.Address}, acl)

	assert.ErrorIs(t, fx.engine.Store().DiscardAs(borrower.Address, h), fhe.ErrAccessDenied)
	assert.NoError(t, fx.engine.Store().DiscardAs(advisor.Address, h))
}
