package decryption

import "github.com/pkg/errors"

var (
	// ErrUnknownRequest: no request with that id was ever recorded.
	ErrUnknownRequest = errors.New("unknown decryption request")
	// ErrAlreadyRevealed: the request, or another request for the same
	// subject, has already been resolved.
	ErrAlreadyRevealed = errors.New("already revealed")
	// ErrInvalidProof leaves the request pending so a corrected proof can be
	// submitted.
	ErrInvalidProof = errors.New("invalid decryption proof")
)
