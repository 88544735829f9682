package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/clientlib"
	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/logger"
	"github.com/CamberLoid/Amortiza/internal/oracle"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
	"github.com/CamberLoid/Amortiza/internal/server"
)

const testTerm = 48

type testServer struct {
	url      string
	tokens   *auth.Issuer
	rt       *coprocessor.Sealed
	engine   *fhe.Engine
	relayer  *oracle.Relayer
	borrower *clientlib.Client
	advisor  *clientlib.Client
}

func (ts *testServer) client(t *testing.T, address string, role loan.Role) *clientlib.Client {
	t.Helper()
	tok, err := ts.tokens.Issue(address, role)
	require.NoError(t, err)
	return clientlib.New(ts.url, tok, 10*time.Second)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	k, err := coprocessor.GenerateSealedKey()
	require.NoError(t, err)
	rt, err := coprocessor.NewSealed(k)
	require.NoError(t, err)
	engine := fhe.NewEngine(fhe.NewStore(rt, fhe.DefaultPolicy()), testTerm, logger.Nop())

	f, members, err := key.GenerateCommittee(3, 2)
	require.NoError(t, err)
	pubs, err := f.PublicKeys()
	require.NoError(t, err)
	committee, err := decryption.NewCommittee(pubs, f.Threshold)
	require.NoError(t, err)

	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "records.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())
	repo := db.NewRepository(conn.DB, logger.Nop())

	ledger, err := loan.NewLedger(engine, committee, loan.Options{MaxTermMonths: testTerm, Records: repo, Log: logger.Nop()})
	require.NoError(t, err)

	tokens, err := auth.NewIssuer("amortiza", "test-secret", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(server.Options{
		Ledger:  ledger,
		Storage: repo,
		Tokens:  tokens,
		Version: "test",
		Log:     logger.Nop(),
	}).Routes())
	t.Cleanup(srv.Close)

	ts := &testServer{url: srv.URL, tokens: tokens, rt: rt, engine: engine}
	ts.borrower = ts.client(t, "0xb0b", loan.RoleBorrower)
	ts.advisor = ts.client(t, "0xad", loan.RoleAdvisor)

	signer, err := oracle.NewSigner(committee, members[:2])
	require.NoError(t, err)
	ts.relayer = oracle.NewRelayer(ts.client(t, "0x0c", loan.RoleOracle), oracle.NewFulfiller(rt, signer), time.Second, logger.Nop())
	return ts
}

func (ts *testServer) submit(t *testing.T, principal, rate, term, extra uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	enc := func(v uint64) fhe.Handle {
		h, err := ts.borrower.Encrypt(ctx, v, fhe.Uint32)
		require.NoError(t, err)
		return h
	}
	id, err := ts.borrower.SubmitLoan(ctx, restfulpayload.SubmitLoanReq{
		Principal:    enc(principal),
		InterestRate: enc(rate),
		Term:         enc(term),
		ExtraPayment: enc(extra),
		LoanAmount:   "$10,000",
		TermLabel:    "36 months",
	})
	require.NoError(t, err)
	return id
}

func TestServer_LoanLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	v, err := ts.borrower.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", v.Version)
	assert.Equal(t, "sealed", v.Runtime)

	_, err = ts.borrower.PublicKey(ctx)
	assert.ErrorIs(t, err, clientlib.ErrNotFound)

	id := ts.submit(t, 10000, 500, 36, 0)
	assert.Equal(t, uint64(1), id)

	assert.ErrorIs(t, ts.borrower.Calculate(ctx, id), loan.ErrUnauthorized)
	require.NoError(t, ts.advisor.Calculate(ctx, id))
	assert.ErrorIs(t, ts.advisor.Calculate(ctx, id), loan.ErrAlreadyCalculated)

	l, err := ts.advisor.Loan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0xb0b", l.Loan.Borrower)
	assert.True(t, l.Schedule.Calculated)

	_, err = ts.advisor.RequestDecryption(ctx, id)
	assert.ErrorIs(t, err, loan.ErrUnauthorized)
	_, err = ts.borrower.RequestDecryption(ctx, id)
	require.NoError(t, err)

	n, err := ts.relayer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := ts.borrower.Schedule(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.Revealed)
	assert.Equal(t, uint32(29973), s.MonthlyPayment)
	assert.Equal(t, uint32(78915), s.TotalInterest)
	assert.Equal(t, uint32(36), s.PayoffTime)

	_, err = ts.advisor.Schedule(ctx, id)
	assert.ErrorIs(t, err, loan.ErrUnauthorized)
	_, err = ts.borrower.RequestDecryption(ctx, id)
	assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed)

	events, err := ts.borrower.Events(ctx, 0)
	require.NoError(t, err)
	kinds := make([]loan.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []loan.EventKind{
		loan.EventLoanSubmitted, loan.EventScheduleCalculated, loan.EventDecryptionRequested, loan.EventScheduleDecrypted,
	}, kinds)

	loans, err := ts.advisor.LoansOf(ctx, "0xb0b")
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, loans)

	schedules, err := ts.borrower.Schedules(ctx)
	require.NoError(t, err)
	require.Contains(t, schedules, "schedule_1")
	var rec db.ScheduleRecord
	require.NoError(t, json.Unmarshal(schedules["schedule_1"], &rec))
	assert.Equal(t, "revealed", rec.Status)
	assert.Equal(t, "0xb0b", rec.Owner)
}

func TestServer_Analytics(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	id := ts.submit(t, 10000, 500, 36, 50)

	_, err := ts.advisor.Analyze(ctx, id, loan.AnalyticTotalCost, restfulpayload.AnalyticsReq{})
	assert.ErrorIs(t, err, loan.ErrNotCalculated)

	require.NoError(t, ts.advisor.Calculate(ctx, id))

	h, err := ts.advisor.Analyze(ctx, id, loan.AnalyticMonthsSaved, restfulpayload.AnalyticsReq{})
	require.NoError(t, err)
	assert.NotEqual(t, fhe.NilHandle, h)

	income := uint64(2000)
	h, err = ts.advisor.Analyze(ctx, id, loan.AnalyticAffordability, restfulpayload.AnalyticsReq{Value: &income})
	require.NoError(t, err)
	assert.NotEqual(t, fhe.NilHandle, h)

	_, err = ts.advisor.Analyze(ctx, id, loan.AnalyticAffordability, restfulpayload.AnalyticsReq{})
	assert.ErrorIs(t, err, clientlib.ErrBadRequest)
	_, err = ts.advisor.Analyze(ctx, id, "net-present-value", restfulpayload.AnalyticsReq{})
	assert.ErrorIs(t, err, loan.ErrUnknownAnalytic)
	_, err = ts.advisor.Analyze(ctx, 99, loan.AnalyticTotalCost, restfulpayload.AnalyticsReq{})
	assert.ErrorIs(t, err, loan.ErrLoanNotFound)
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := clientlib.New(ts.url, "", time.Second).LoansOf(ctx, "0xb0b")
	assert.ErrorIs(t, err, clientlib.ErrUnauthorized)

	_, err = clientlib.New(ts.url, "forged", time.Second).LoansOf(ctx, "0xb0b")
	assert.ErrorIs(t, err, clientlib.ErrUnauthorized)

	_, err = ts.borrower.Pending(ctx)
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	_, err = ts.advisor.SubmitLoan(ctx, restfulpayload.SubmitLoanReq{})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	_, err = ts.borrower.Version(ctx)
	assert.NoError(t, err)
}

func TestServer_BadInputs(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.borrower.Import(ctx, fhe.Uint32, []byte("not a ciphertext"))
	assert.ErrorIs(t, err, clientlib.ErrBadRequest)

	_, err = ts.borrower.SubmitLoan(ctx, restfulpayload.SubmitLoanReq{})
	assert.ErrorIs(t, err, fhe.ErrInvalidHandle)

	_, err = ts.borrower.Loan(ctx, 42)
	assert.ErrorIs(t, err, loan.ErrLoanNotFound)

	err = ts.advisor.Resolve(ctx, [16]byte{1}, []uint64{1}, decryption.Proof{})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	oc := ts.client(t, "0x0c", loan.RoleOracle)
	err = oc.Resolve(ctx, [16]byte{1}, []uint64{1}, decryption.Proof{})
	assert.ErrorIs(t, err, decryption.ErrUnknownRequest)
}

func TestServer_Storage(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.borrower.StorageGet(ctx, "ui_theme")
	assert.ErrorIs(t, err, db.ErrRecordNotFound)

	require.NoError(t, ts.borrower.StoragePut(ctx, "ui_theme", json.RawMessage(`{"mode":"dark"}`)))
	v, err := ts.borrower.StorageGet(ctx, "ui_theme")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"dark"}`, string(v))

	require.NoError(t, ts.borrower.StorageDelete(ctx, "ui_theme"))
	assert.ErrorIs(t, ts.borrower.StorageDelete(ctx, "ui_theme"), db.ErrRecordNotFound)

	schedules, err := ts.borrower.Schedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestServer_ForeignHandles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	mallory := ts.client(t, "0xbad", loan.RoleBorrower)

	victim := ts.submit(t, 12345, 500, 36, 0)
	require.NoError(t, ts.advisor.Calculate(ctx, victim))
	l, err := mallory.Loan(ctx, victim)
	require.NoError(t, err)

	own := func(v uint64) fhe.Handle {
		h, err := mallory.Encrypt(ctx, v, fhe.Uint32)
		require.NoError(t, err)
		return h
	}
	_, err = mallory.SubmitLoan(ctx, restfulpayload.SubmitLoanReq{
		Principal:    l.Loan.Principal,
		InterestRate: own(0),
		Term:         own(1),
		ExtraPayment: own(0),
	})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	derived, err := mallory.Analyze(ctx, victim, loan.AnalyticTotalCost, restfulpayload.AnalyticsReq{})
	require.NoError(t, err)
	_, err = mallory.SubmitLoan(ctx, restfulpayload.SubmitLoanReq{
		Principal:    derived,
		InterestRate: own(0),
		Term:         own(1),
		ExtraPayment: own(0),
	})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	income, err := ts.borrower.Encrypt(ctx, 2000, fhe.Uint32)
	require.NoError(t, err)
	_, err = mallory.Analyze(ctx, victim, loan.AnalyticAffordability, restfulpayload.AnalyticsReq{Handle: &income})
	assert.ErrorIs(t, err, loan.ErrUnauthorized)

	assert.ErrorIs(t, mallory.Discard(ctx, l.Loan.Principal), fhe.ErrAccessDenied)
	assert.ErrorIs(t, mallory.Discard(ctx, income), fhe.ErrAccessDenied)
	loans, err := mallory.LoansOf(ctx, "0xbad")
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestServer_DiscardReleasesHandles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	store := ts.engine.Store()

	ts.submit(t, 10000, 500, 36, 0)
	// only the ledger's copies of the inputs remain
	assert.Equal(t, 4, store.Len())

	h, err := ts.borrower.Encrypt(ctx, 7, fhe.Uint32)
	require.NoError(t, err)
	assert.Equal(t, 5, store.Len())

	stranger := ts.client(t, "0xeve", loan.RoleBorrower)
	assert.ErrorIs(t, stranger.Discard(ctx, h), fhe.ErrAccessDenied)
	assert.Equal(t, 5, store.Len())

	require.NoError(t, ts.borrower.Discard(ctx, h))
	assert.Equal(t, 4, store.Len())
	assert.ErrorIs(t, ts.borrower.Discard(ctx, h), fhe.ErrInvalidHandle)
}

func TestServer_StorageRecordsAreOwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	stranger := ts.client(t, "0xeve", loan.RoleBorrower)

	id := ts.submit(t, 10000, 500, 36, 0)
	require.NoError(t, ts.advisor.Calculate(ctx, id))
	_, err := ts.borrower.RequestDecryption(ctx, id)
	require.NoError(t, err)
	_, err = ts.relayer.Poll(ctx)
	require.NoError(t, err)

	_, err = stranger.Schedule(ctx, id)
	assert.ErrorIs(t, err, loan.ErrUnauthorized)
	_, err = stranger.StorageGet(ctx, "schedule_1")
	assert.ErrorIs(t, err, loan.ErrUnauthorized)
	assert.ErrorIs(t, stranger.StoragePut(ctx, "schedule_1", json.RawMessage(`{"owner":"0xeve"}`)), loan.ErrUnauthorized)
	assert.ErrorIs(t, stranger.StorageDelete(ctx, "schedule_1"), loan.ErrUnauthorized)
	assert.ErrorIs(t, stranger.StoragePut(ctx, "schedule_keys", json.RawMessage(`[]`)), loan.ErrUnauthorized)
	assert.ErrorIs(t, stranger.StorageDelete(ctx, "schedule_keys"), loan.ErrUnauthorized)
	assert.ErrorIs(t, ts.borrower.StoragePut(ctx, "schedule_keys", json.RawMessage(`[]`)), loan.ErrUnauthorized)

	schedules, err := stranger.Schedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, schedules)

	raw, err := ts.borrower.StorageGet(ctx, "schedule_1")
	require.NoError(t, err)
	var rec db.ScheduleRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "0xb0b", rec.Owner)
	assert.Equal(t, "revealed", rec.Status)
	assert.NotContains(t, string(rec.Data), "29973")

	// the owner may not hand the record to someone else
	assert.ErrorIs(t, ts.borrower.StoragePut(ctx, "schedule_1", json.RawMessage(`{"owner":"0xeve"}`)), loan.ErrUnauthorized)
	rec.Status = "archived"
	updated, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, ts.borrower.StoragePut(ctx, "schedule_1", updated))

	ids, err := ts.borrower.StorageGet(ctx, "schedule_keys")
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(ids))
}

func TestServer_NotFoundEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.url + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var f restfulpayload.Failure
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	assert.Equal(t, restfulpayload.StatusFailed, f.Status)
	assert.Contains(t, f.Err, "/nope")
}
