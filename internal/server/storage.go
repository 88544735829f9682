package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

// Storage is the key/value record store the UI reads and writes.
// *db.Repository implements it.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ScheduleIDs(ctx context.Context) ([]uint64, error)
	Schedule(ctx context.Context, id uint64) (db.ScheduleRecord, error)
}

// authorizeRecord guards the keys the ledger writes. Anyone may read the
// id list; schedule records are readable and writable by their owner only,
// and no other schedule key is writable.
func (s *Server) authorizeRecord(r *http.Request, key string, write bool) error {
	if !db.Reserved(key) {
		return nil
	}
	caller := callerFrom(r.Context())
	id, ok := db.ParseScheduleKey(key)
	if !ok {
		if key == db.ScheduleKeys && !write {
			return nil
		}
		return errors.Wrapf(loan.ErrUnauthorized, "%s is written by the ledger", key)
	}
	rec, err := s.storage.Schedule(r.Context(), id)
	if err != nil {
		return err
	}
	if rec.Owner != caller.Address {
		return errors.Wrapf(loan.ErrUnauthorized, "%s does not own %s", caller.Address, key)
	}
	return nil
}

// Handle GET /storage/{key} request
func (s *Server) HandlerStorageGet(w http.ResponseWriter, r *http.Request) {
	k := chi.URLParam(r, "key")
	if err := s.authorizeRecord(r, k, false); err != nil {
		returnError(w, r, err)
		return
	}
	v, err := s.storage.Get(r.Context(), k)
	if err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.StorageValue{Status: restfulpayload.StatusOK, Key: k, Value: v})
}

// Handle PUT /storage/{key} request
// Stores the value field of the body. Values must be JSON, and a schedule
// record must stay with its owner.
func (s *Server) HandlerStoragePut(w http.ResponseWriter, r *http.Request) {
	k := chi.URLParam(r, "key")
	var req restfulpayload.StorageValue
	if err := decode(r, &req); err != nil {
		returnError(w, r, err)
		return
	}
	if len(req.Value) == 0 || !json.Valid(req.Value) {
		returnError(w, r, errors.Wrap(errBadRequest, "value must be JSON"))
		return
	}
	if err := s.authorizeRecord(r, k, true); err != nil {
		returnError(w, r, err)
		return
	}
	if _, ok := db.ParseScheduleKey(k); ok {
		var rec db.ScheduleRecord
		if err := json.Unmarshal(req.Value, &rec); err != nil {
			returnError(w, r, errors.Wrap(errBadRequest, err.Error()))
			return
		}
		if rec.Owner != callerFrom(r.Context()).Address {
			returnError(w, r, errors.Wrapf(loan.ErrUnauthorized, "%s cannot hand %s to %q", callerFrom(r.Context()).Address, k, rec.Owner))
			return
		}
	}
	if err := s.storage.Put(r.Context(), k, req.Value); err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.OKResp{Status: restfulpayload.StatusOK})
}

// Handle DELETE /storage/{key} request
func (s *Server) HandlerStorageDelete(w http.ResponseWriter, r *http.Request) {
	k := chi.URLParam(r, "key")
	if err := s.authorizeRecord(r, k, true); err != nil {
		returnError(w, r, err)
		return
	}
	if err := s.storage.Delete(r.Context(), k); err != nil {
		returnError(w, r, err)
		return
	}
	returnOK(w, restfulpayload.OKResp{Status: restfulpayload.StatusOK})
}

// Handle /storage/schedules request
// Returns the caller's schedule records keyed by storage key.
func (s *Server) HandlerStorageSchedules(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	ids, err := s.storage.ScheduleIDs(r.Context())
	if err != nil {
		returnError(w, r, err)
		return
	}
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		rec, err := s.storage.Schedule(r.Context(), id)
		if errors.Is(err, db.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			returnError(w, r, err)
			return
		}
		if rec.Owner != caller.Address {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			returnError(w, r, err)
			return
		}
		out[db.ScheduleKey(id)] = raw
	}
	returnOK(w, restfulpayload.StorageSchedulesResp{Status: restfulpayload.StatusOK, Schedules: out})
}
