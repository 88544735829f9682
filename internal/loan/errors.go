package loan

import "github.com/pkg/errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotCalculated     = errors.New("schedule not calculated")
	ErrAlreadyCalculated = errors.New("schedule already calculated")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrUnknownAnalytic   = errors.New("unknown analytic")
)
