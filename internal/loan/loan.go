// Package loan is the encrypted amortization ledger. Loan terms arrive as
// ciphertext handles, the schedule is computed on ciphertexts by an advisor
// and only the borrower can have it revealed through the decryption
// coordinator.
package loan

import (
	"time"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

type Role string

const (
	RoleBorrower Role = "borrower"
	RoleAdvisor  Role = "advisor"
	RoleOracle   Role = "oracle"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBorrower, RoleAdvisor, RoleOracle:
		return true
	}
	return false
}

// Caller is an authenticated party acting on the ledger.
type Caller struct {
	Address string
	Role    Role
}

// Application is what a borrower submits. All handles must be Uint32:
// principal and extra payment in whole units, rate in basis points per
// year, term in months. LoanAmount and Term are display strings kept for
// the schedule records.
type Application struct {
	Principal    fhe.Handle
	InterestRate fhe.Handle
	Term         fhe.Handle
	ExtraPayment fhe.Handle

	LoanAmount string
	TermLabel  string
}

type Loan struct {
	ID           uint64     `json:"id"`
	Borrower     string     `json:"borrower"`
	Principal    fhe.Handle `json:"principal"`
	InterestRate fhe.Handle `json:"interest_rate"`
	Term         fhe.Handle `json:"term"`
	ExtraPayment fhe.Handle `json:"extra_payment"`
	LoanAmount   string     `json:"loan_amount,omitempty"`
	TermLabel    string     `json:"term_label,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
}

// Schedule holds the encrypted results. MonthlyPayment and TotalInterest
// are in cents, PayoffTime in months.
type Schedule struct {
	MonthlyPayment fhe.Handle `json:"monthly_payment"`
	TotalInterest  fhe.Handle `json:"total_interest"`
	PayoffTime     fhe.Handle `json:"payoff_time"`
	Calculated     bool       `json:"calculated"`
	CalculatedAt   time.Time  `json:"calculated_at,omitempty"`
}

func (s Schedule) handles() []fhe.Handle {
	return []fhe.Handle{s.MonthlyPayment, s.TotalInterest, s.PayoffTime}
}

// DecryptedSchedule is written once, by a successful resolution.
type DecryptedSchedule struct {
	MonthlyPayment uint32    `json:"monthlyPayment"`
	TotalInterest  uint32    `json:"totalInterest"`
	PayoffTime     uint32    `json:"payoffTime"`
	Revealed       bool      `json:"revealed"`
	RevealedAt     time.Time `json:"revealedAt,omitempty"`
}
