// Package restfulpayload holds the JSON bodies exchanged with the ledger
// service. Byte fields travel base64 encoded.
package restfulpayload

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
)

const (
	StatusOK     = "OK"
	StatusFailed = "failed"
)

// Failure is the body of every error response.
type Failure struct {
	Status string `json:"status"`
	Err    string `json:"err"`
}

type VersionResp struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Runtime string `json:"runtime"`
}

// PublicKeyResp carries the marshalled lattigo public key clients encrypt
// loan terms with.
type PublicKeyResp struct {
	Status    string `json:"status"`
	Runtime   string `json:"runtime"`
	PublicKey []byte `json:"public_key"`
}

// ImportCiphertextReq registers a payload encrypted by the client.
type ImportCiphertextReq struct {
	Type       fhe.Type `json:"type"`
	Ciphertext []byte   `json:"ciphertext"`
}

// EncryptReq asks the service to encrypt a value. Only the sealed
// development runtime accepts it.
type EncryptReq struct {
	Type  fhe.Type `json:"type"`
	Value uint64   `json:"value"`
}

type HandleResp struct {
	Status string     `json:"status"`
	Handle fhe.Handle `json:"handle"`
	Info   *fhe.Info  `json:"info,omitempty"`
}

type SubmitLoanReq struct {
	Principal    fhe.Handle `json:"principal"`
	InterestRate fhe.Handle `json:"interest_rate"`
	Term         fhe.Handle `json:"term"`
	ExtraPayment fhe.Handle `json:"extra_payment"`
	LoanAmount   string     `json:"loanAmount"`
	TermLabel    string     `json:"termLabel"`
}

type SubmitLoanResp struct {
	Status string `json:"status"`
	LoanID uint64 `json:"loan_id"`
}

type LoanResp struct {
	Status   string        `json:"status"`
	Loan     loan.Loan     `json:"loan"`
	Schedule loan.Schedule `json:"schedule"`
}

type DecryptResp struct {
	Status    string    `json:"status"`
	RequestID uuid.UUID `json:"request_id"`
}

type ScheduleResp struct {
	Status   string                 `json:"status"`
	Schedule loan.DecryptedSchedule `json:"schedule"`
}

// AnalyticsReq is the optional input of an analytic: either a ciphertext
// handle or a plaintext literal.
type AnalyticsReq struct {
	Handle *fhe.Handle `json:"handle,omitempty"`
	Value  *uint64     `json:"value,omitempty"`
}

// Operand returns the input as an engine operand; ok is false when the
// request carries neither field.
func (r AnalyticsReq) Operand() (o fhe.Operand, ok bool) {
	switch {
	case r.Handle != nil:
		return fhe.Cipher(*r.Handle), true
	case r.Value != nil:
		return fhe.Plain(*r.Value), true
	}
	return fhe.Operand{}, false
}

type LoansResp struct {
	Status string   `json:"status"`
	Loans  []uint64 `json:"loans"`
}

type EventsResp struct {
	Status string       `json:"status"`
	Events []loan.Event `json:"events"`
}

type PendingResp struct {
	Status   string               `json:"status"`
	Requests []decryption.Request `json:"requests"`
}

type ResolveReq struct {
	RequestID  uuid.UUID        `json:"request_id"`
	Cleartexts []uint64         `json:"cleartexts"`
	Proof      decryption.Proof `json:"proof"`
}

// StorageValue is an opaque UI value under a storage key.
type StorageValue struct {
	Status string          `json:"status"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

type StorageSchedulesResp struct {
	Status    string                     `json:"status"`
	Schedules map[string]json.RawMessage `json:"schedules"`
}

type OKResp struct {
	Status string `json:"status"`
}
