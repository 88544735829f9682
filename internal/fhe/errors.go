package fhe

import "github.com/pkg/errors"

var (
	// ErrInvalidHandle is returned for unknown or discarded handles.
	ErrInvalidHandle = errors.New("invalid ciphertext handle")
	// ErrTypeMismatch is returned when operand widths disagree.
	ErrTypeMismatch = errors.New("ciphertext type mismatch")
	// ErrNoiseBudgetExhausted is returned when a refresh is attempted on a
	// ciphertext already below the unrecoverable threshold. The floor checks
	// of the engine make this a contract violation rather than a user error.
	ErrNoiseBudgetExhausted = errors.New("noise budget exhausted")
	// ErrAccessDenied is returned when a principal uses a handle it does
	// not own.
	ErrAccessDenied = errors.New("ciphertext access denied")
	// ErrUnboundedExponent is returned by Pow without a usable bound.
	ErrUnboundedExponent = errors.New("encrypted exponent requires a bound")
)
