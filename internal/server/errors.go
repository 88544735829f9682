package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/logger"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnsupported = errors.New("not supported by this runtime")
)

var errorStatusMap = map[error]int{
	errBadRequest:                   http.StatusBadRequest,
	fhe.ErrInvalidHandle:            http.StatusBadRequest,
	fhe.ErrTypeMismatch:             http.StatusBadRequest,
	fhe.ErrUnboundedExponent:        http.StatusBadRequest,
	coprocessor.ErrMalformedPayload: http.StatusBadRequest,

	auth.ErrInvalidAuthorizationHeader: http.StatusUnauthorized,
	auth.ErrInvalidToken:               http.StatusUnauthorized,
	loan.ErrUnauthorized:               http.StatusForbidden,
	fhe.ErrAccessDenied:                http.StatusForbidden,

	errUnsupported:               http.StatusNotFound,
	loan.ErrLoanNotFound:         http.StatusNotFound,
	loan.ErrUnknownAnalytic:      http.StatusNotFound,
	db.ErrRecordNotFound:         http.StatusNotFound,
	decryption.ErrUnknownRequest: http.StatusNotFound,

	loan.ErrAlreadyCalculated:     http.StatusConflict,
	loan.ErrNotCalculated:         http.StatusConflict,
	decryption.ErrAlreadyRevealed: http.StatusConflict,

	decryption.ErrInvalidProof: http.StatusUnprocessableEntity,
}

func statusFromError(err error) int {
	for target, status := range errorStatusMap {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

func returnJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func returnOK(w http.ResponseWriter, v any) {
	returnJSON(w, http.StatusOK, v)
}

// Generic failure
func returnFailure(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	log := logger.FromRequest(r)
	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("uri", r.RequestURI).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("uri", r.RequestURI).Int("status", statusCode).Msg("request rejected")
	}
	returnJSON(w, statusCode, restfulpayload.Failure{Status: restfulpayload.StatusFailed, Err: err.Error()})
}

func returnError(w http.ResponseWriter, r *http.Request, err error) {
	returnFailure(w, r, err, statusFromError(err))
}

func (s *Server) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	returnFailure(w, r, errors.New("function not found: "+r.RequestURI), http.StatusNotFound)
}

func (s *Server) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	returnFailure(w, r, errors.Errorf("method %s not allowed on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed)
}
