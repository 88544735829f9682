package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func loanID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "loan id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// Handle /version request
func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	returnOK(w, restfulpayload.VersionResp{
		Status:  restfulpayload.StatusOK,
		Version: s.version,
		Runtime: s.engine.Runtime().Name(),
	})
}

// Handle /keys/public request
// Serves the lattice public key clients encrypt with.
func (s *Server) HandlerPublicKey(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.engine.Runtime().(interface{ PublicKey() *rlwe.PublicKey })
	if !ok {
		returnError(w, r, errors.Wrapf(errUnsupported, "%s runtime has no public key", s.engine.Runtime().Name()))
		return
	}
	raw, err := key.MarshalCKKSPayload(rt.PublicKey())
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.PublicKeyResp{Status: restfulpayload.StatusOK, Runtime: s.engine.Runtime().Name(), PublicKey: raw})
}

func (s *Server) handleResp(w http.ResponseWriter, r *http.Request, h fhe.Handle) {
	info, err := s.engine.Store().Info(h)
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.HandleResp{Status: restfulpayload.StatusOK, Handle: h, Info: &info})
}

// Handle /ciphertext/import request
func (s *Server) HandlerImportCiphertext(w http.ResponseWriter, r *http.Request) {
	var req restfulpayload.ImportCiphertextReq
	if err := decode(r, &req); err != nil {
		returnError(w, r, err)
		return
	}
	h, err := s.engine.Store().ImportFor(callerFrom(r.Context()).Address, req.Ciphertext, req.Type)
	if err != nil {
		returnError(w, r, err)
		return
	}
	s.handleResp(w, r, h)
}

// Handle /ciphertext/encrypt request
// Encrypts a plaintext on the server. Only the sealed development runtime
// offers it.
func (s *Server) HandlerEncrypt(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.engine.Runtime().(*coprocessor.Sealed); !ok {
		returnError(w, r, errors.Wrapf(errUnsupported, "server side encryption on %s runtime", s.engine.Runtime().Name()))
		return
	}
	var req restfulpayload.EncryptReq
	if err := decode(r, &req); err != nil {
		returnError(w, r, err)
		return
	}
	h, err := s.engine.EncryptFor(callerFrom(r.Context()).Address, req.Value, req.Type)
	if err != nil {
		returnError(w, r, err)
		return
	}
	s.handleResp(w, r, h)
}

// Handle DELETE /ciphertext/{handle} request
// Only the handle's owner may release it.
func (s *Server) HandlerDiscard(w http.ResponseWriter, r *http.Request) {
	h, err := fhe.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		returnError(w, r, err)
		return
	}
	if err := s.engine.Store().DiscardAs(callerFrom(r.Context()).Address, h); err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.OKResp{Status: restfulpayload.StatusOK})
}

// Handle /loan/submit request
func (s *Server) HandlerSubmitLoan(w http.ResponseWriter, r *http.Request) {
	var req restfulpayload.SubmitLoanReq
	if err := decode(r, &req); err != nil {
		returnError(w, r, err)
		return
	}
	id, err := s.ledger.SubmitLoan(r.Context(), callerFrom(r.Context()).Address, loan.Application{
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		Term:         req.Term,
		ExtraPayment: req.ExtraPayment,
		LoanAmount:   req.LoanAmount,
		TermLabel:    req.TermLabel,
	})
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.SubmitLoanResp{Status: restfulpayload.StatusOK, LoanID: id})
}

// Handle /loan/{id} request
func (s *Server) HandlerLoan(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		returnError(w, r, err)
		return
	}
	l, err := s.ledger.Loan(id)
	if err != nil {
		returnError(w, r, err)
		return
	}
	sched, err := s.ledger.Schedule(id)
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.LoanResp{Status: restfulpayload.StatusOK, Loan: l, Schedule: sched})
}

// Handle /loan/{id}/calculate request
func (s *Server) HandlerCalculate(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		returnError(w, r, err)
		return
	}
	if err := s.ledger.CalculateAmortization(r.Context(), callerFrom(r.Context()), id); err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.OKResp{Status: restfulpayload.StatusOK})
}

// Handle /loan/{id}/decrypt request
func (s *Server) HandlerRequestDecryption(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		returnError(w, r, err)
		return
	}
	reqID, err := s.ledger.RequestScheduleDecryption(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.DecryptResp{Status: restfulpayload.StatusOK, RequestID: reqID})
}

// Handle /loan/{id}/schedule request
func (s *Server) HandlerSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		returnError(w, r, err)
		return
	}
	sched, err := s.ledger.DecryptedSchedule(callerFrom(r.Context()), id)
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.ScheduleResp{Status: restfulpayload.StatusOK, Schedule: sched})
}

// Handle /loan/{id}/analytics/{name} request
func (s *Server) HandlerAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		returnError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")

	var req restfulpayload.AnalyticsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		returnError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	arg, ok := req.Operand()
	if !ok && loan.NeedsArgument(name) {
		returnError(w, r, errors.Wrapf(errBadRequest, "%s needs a handle or a value", name))
		return
	}

	h, err := s.ledger.AnalyzeFor(callerFrom(r.Context()), id, name, arg)
	if err != nil {
		returnError(w, r, err)
		return
	}
	s.handleResp(w, r, h)
}

// Handle /borrower/{address}/loans request
func (s *Server) HandlerBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	returnOK(w, restfulpayload.LoansResp{
		Status: restfulpayload.StatusOK,
		Loans:  s.ledger.LoansOf(chi.URLParam(r, "address")),
	})
}

// Handle /events request
func (s *Server) HandlerEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		var err error
		if since, err = strconv.ParseUint(v, 10, 64); err != nil {
			returnError(w, r, errors.Wrapf(errBadRequest, "since %q", v))
			return
		}
	}
	returnOK(w, restfulpayload.EventsResp{Status: restfulpayload.StatusOK, Events: s.ledger.Events(since)})
}

// Handle /oracle/pending request
// Lists open decryption requests with their payload snapshots. Oracle role
// only.
func (s *Server) HandlerPending(w http.ResponseWriter, r *http.Request) {
	returnOK(w, restfulpayload.PendingResp{
		Status:   restfulpayload.StatusOK,
		Requests: s.ledger.Coordinator().Pending(),
	})
}

// Handle /oracle/resolve request
func (s *Server) HandlerResolve(w http.ResponseWriter, r *http.Request) {
	var req restfulpayload.ResolveReq
	if err := decode(r, &req); err != nil {
		returnError(w, r, err)
		return
	}
	if err := s.ledger.ResolveDecryption(r.Context(), req.RequestID, req.Cleartexts, req.Proof); err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.OKResp{Status: restfulpayload.StatusOK})
}
