// Package clientlib talks to the ledger service: loan submission,
// calculation and decryption requests for borrowers and advisors, and the
// pending/resolve endpoints for the oracle.
package clientlib

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

const (
	DefaultServerURL = "http://localhost:8080"

	VersionEndpoint       = "/version"
	PublicKeyEndpoint     = "/keys/public"
	ImportEndpoint        = "/ciphertext/import"
	EncryptEndpoint       = "/ciphertext/encrypt"
	CiphertextEndpoint    = "/ciphertext/{handle}"
	SubmitLoanEndpoint    = "/loan/submit"
	LoanEndpoint          = "/loan/{id}"
	CalculateEndpoint     = "/loan/{id}/calculate"
	DecryptEndpoint       = "/loan/{id}/decrypt"
	ScheduleEndpoint      = "/loan/{id}/schedule"
	AnalyticsEndpoint     = "/loan/{id}/analytics/{name}"
	BorrowerLoansEndpoint = "/borrower/{address}/loans"
	EventsEndpoint        = "/events"
	PendingEndpoint       = "/oracle/pending"
	ResolveEndpoint       = "/oracle/resolve"
	StorageEndpoint       = "/storage/{key}"
	SchedulesEndpoint     = "/storage/schedules"
)

// Client is a resty client bound to one service and one bearer token.
type Client struct {
	http *resty.Client
	enc  *Encryptor
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

func (c *Client) SetToken(token string) { c.http.SetAuthToken(token) }

// do sends r and decodes an OK envelope into out.
func (c *Client) do(r *resty.Request, method, path string, out any) error {
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	return mapHTTPError(resp)
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

func (c *Client) Version(ctx context.Context) (restfulpayload.VersionResp, error) {
	var out restfulpayload.VersionResp
	err := c.do(c.req(ctx), resty.MethodGet, VersionEndpoint, &out)
	return out, err
}

func (c *Client) PublicKey(ctx context.Context) (restfulpayload.PublicKeyResp, error) {
	var out restfulpayload.PublicKeyResp
	err := c.do(c.req(ctx), resty.MethodGet, PublicKeyEndpoint, &out)
	return out, err
}

// Import registers a payload encrypted on this side.
func (c *Client) Import(ctx context.Context, t fhe.Type, payload []byte) (fhe.Handle, error) {
	var out restfulpayload.HandleResp
	body := restfulpayload.ImportCiphertextReq{Type: t, Ciphertext: payload}
	if err := c.do(c.req(ctx).SetBody(body), resty.MethodPost, ImportEndpoint, &out); err != nil {
		return fhe.NilHandle, err
	}
	return out.Handle, nil
}

// EncryptRemote has the service encrypt v. Only the sealed runtime allows it.
func (c *Client) EncryptRemote(ctx context.Context, v uint64, t fhe.Type) (fhe.Handle, error) {
	var out restfulpayload.HandleResp
	body := restfulpayload.EncryptReq{Type: t, Value: v}
	if err := c.do(c.req(ctx).SetBody(body), resty.MethodPost, EncryptEndpoint, &out); err != nil {
		return fhe.NilHandle, err
	}
	return out.Handle, nil
}

// Encrypt encrypts v locally with the service's lattice public key when it
// publishes one, and falls back to EncryptRemote otherwise.
func (c *Client) Encrypt(ctx context.Context, v uint64, t fhe.Type) (fhe.Handle, error) {
	if c.enc == nil {
		enc, err := c.encryptor(ctx)
		if err != nil {
			return fhe.NilHandle, err
		}
		c.enc = enc
	}
	if !c.enc.Local() {
		return c.EncryptRemote(ctx, v, t)
	}
	payload, err := c.enc.Encrypt(v, t)
	if err != nil {
		return fhe.NilHandle, err
	}
	return c.Import(ctx, t, payload)
}

func (c *Client) encryptor(ctx context.Context) (*Encryptor, error) {
	pk, err := c.PublicKey(ctx)
	if errors.Is(err, ErrNotFound) {
		return &Encryptor{}, nil
	}
	if err != nil {
		return nil, err
	}
	return NewEncryptor(pk.PublicKey)
}

// Discard releases a handle owned by the caller.
func (c *Client) Discard(ctx context.Context, h fhe.Handle) error {
	r := c.req(ctx).SetPathParam("handle", h.String())
	return c.do(r, resty.MethodDelete, CiphertextEndpoint, nil)
}

// SubmitLoan submits a loan and then releases the four input handles; the
// ledger keeps its own copies. A failed release is returned along with the
// loan id.
func (c *Client) SubmitLoan(ctx context.Context, req restfulpayload.SubmitLoanReq) (uint64, error) {
	var out restfulpayload.SubmitLoanResp
	if err := c.do(c.req(ctx).SetBody(req), resty.MethodPost, SubmitLoanEndpoint, &out); err != nil {
		return 0, err
	}
	for _, h := range []fhe.Handle{req.Principal, req.InterestRate, req.Term, req.ExtraPayment} {
		if h == fhe.NilHandle {
			continue
		}
		if err := c.Discard(ctx, h); err != nil {
			return out.LoanID, errors.Wrapf(err, "release input %s", h)
		}
	}
	return out.LoanID, nil
}

func (c *Client) Loan(ctx context.Context, id uint64) (restfulpayload.LoanResp, error) {
	var out restfulpayload.LoanResp
	err := c.do(c.loanReq(ctx, id), resty.MethodGet, LoanEndpoint, &out)
	return out, err
}

func (c *Client) Calculate(ctx context.Context, id uint64) error {
	return c.do(c.loanReq(ctx, id), resty.MethodPost, CalculateEndpoint, nil)
}

func (c *Client) RequestDecryption(ctx context.Context, id uint64) (uuid.UUID, error) {
	var out restfulpayload.DecryptResp
	if err := c.do(c.loanReq(ctx, id), resty.MethodPost, DecryptEndpoint, &out); err != nil {
		return uuid.Nil, err
	}
	return out.RequestID, nil
}

func (c *Client) Schedule(ctx context.Context, id uint64) (loan.DecryptedSchedule, error) {
	var out restfulpayload.ScheduleResp
	err := c.do(c.loanReq(ctx, id), resty.MethodGet, ScheduleEndpoint, &out)
	return out.Schedule, err
}

func (c *Client) Analyze(ctx context.Context, id uint64, name string, in restfulpayload.AnalyticsReq) (fhe.Handle, error) {
	var out restfulpayload.HandleResp
	r := c.loanReq(ctx, id).SetPathParam("name", name).SetBody(in)
	if err := c.do(r, resty.MethodPost, AnalyticsEndpoint, &out); err != nil {
		return fhe.NilHandle, err
	}
	return out.Handle, nil
}

func (c *Client) LoansOf(ctx context.Context, address string) ([]uint64, error) {
	var out restfulpayload.LoansResp
	r := c.req(ctx).SetPathParam("address", address)
	err := c.do(r, resty.MethodGet, BorrowerLoansEndpoint, &out)
	return out.Loans, err
}

func (c *Client) Events(ctx context.Context, since uint64) ([]loan.Event, error) {
	var out restfulpayload.EventsResp
	r := c.req(ctx).SetQueryParam("since", strconv.FormatUint(since, 10))
	err := c.do(r, resty.MethodGet, EventsEndpoint, &out)
	return out.Events, err
}

// Pending lists the open decryption requests. Oracle role only.
func (c *Client) Pending(ctx context.Context) ([]decryption.Request, error) {
	var out restfulpayload.PendingResp
	err := c.do(c.req(ctx), resty.MethodGet, PendingEndpoint, &out)
	return out.Requests, err
}

// Resolve posts an oracle resolution. Oracle role only.
func (c *Client) Resolve(ctx context.Context, id uuid.UUID, cleartexts []uint64, proof decryption.Proof) error {
	body := restfulpayload.ResolveReq{RequestID: id, Cleartexts: cleartexts, Proof: proof}
	return c.do(c.req(ctx).SetBody(body), resty.MethodPost, ResolveEndpoint, nil)
}

func (c *Client) StorageGet(ctx context.Context, key string) (json.RawMessage, error) {
	var out restfulpayload.StorageValue
	err := c.do(c.req(ctx).SetPathParam("key", key), resty.MethodGet, StorageEndpoint, &out)
	return out.Value, err
}

func (c *Client) StoragePut(ctx context.Context, key string, value json.RawMessage) error {
	r := c.req(ctx).SetPathParam("key", key).SetBody(restfulpayload.StorageValue{Key: key, Value: value})
	return c.do(r, resty.MethodPut, StorageEndpoint, nil)
}

func (c *Client) StorageDelete(ctx context.Context, key string) error {
	return c.do(c.req(ctx).SetPathParam("key", key), resty.MethodDelete, StorageEndpoint, nil)
}

func (c *Client) Schedules(ctx context.Context) (map[string]json.RawMessage, error) {
	var out restfulpayload.StorageSchedulesResp
	err := c.do(c.req(ctx), resty.MethodGet, SchedulesEndpoint, &out)
	return out.Schedules, err
}

func (c *Client) loanReq(ctx context.Context, id uint64) *resty.Request {
	return c.req(ctx).SetPathParam("id", strconv.FormatUint(id, 10))
}
