package clientlib

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthenticated")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
)

// sentinels the service reports by message; matched so callers can use
// errors.Is across the wire.
var known = []error{
	fhe.ErrInvalidHandle,
	fhe.ErrTypeMismatch,
	fhe.ErrNoiseBudgetExhausted,
	fhe.ErrUnboundedExponent,
	fhe.ErrAccessDenied,
	loan.ErrUnauthorized,
	loan.ErrNotCalculated,
	loan.ErrAlreadyCalculated,
	loan.ErrLoanNotFound,
	loan.ErrUnknownAnalytic,
	decryption.ErrAlreadyRevealed,
	decryption.ErrUnknownRequest,
	decryption.ErrInvalidProof,
	db.ErrRecordNotFound,
}

func mapHTTPError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	msg := strings.TrimSpace(string(resp.Body()))
	var f restfulpayload.Failure
	if err := json.Unmarshal(resp.Body(), &f); err == nil && f.Err != "" {
		msg = f.Err
	}
	for _, s := range known {
		if strings.Contains(msg, s.Error()) {
			return errors.Wrap(s, msg)
		}
	}

	switch {
	case code == http.StatusBadRequest:
		return errors.Wrap(ErrBadRequest, msg)
	case code == http.StatusUnauthorized:
		return errors.Wrap(ErrUnauthorized, msg)
	case code == http.StatusNotFound:
		return errors.Wrap(ErrNotFound, msg)
	case code == http.StatusConflict:
		return errors.Wrap(ErrConflict, msg)
	case code >= http.StatusInternalServerError:
		return errors.Wrap(ErrServer, msg)
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return errors.Errorf("http %d: %s", code, msg)
}
