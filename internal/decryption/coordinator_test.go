package decryption_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/logger"
)

type fixture struct {
	store     *fhe.Store
	rt        *coprocessor.Sealed
	members   []*ecdsa.PrivateKey
	committee *decryption.Committee
	coord     *decryption.Coordinator

	mu        sync.Mutex
	delivered []decryption.Resolution
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	k, err := coprocessor.GenerateSealedKey()
	require.NoError(t, err)
	rt, err := coprocessor.NewSealed(k)
	require.NoError(t, err)

	f, members, err := key.GenerateCommittee(3, 2)
	require.NoError(t, err)
	pubs, err := f.PublicKeys()
	require.NoError(t, err)
	committee, err := decryption.NewCommittee(pubs, f.Threshold)
	require.NoError(t, err)

	fx := &fixture{
		store:     fhe.NewStore(rt, fhe.DefaultPolicy()),
		rt:        rt,
		members:   members,
		committee: committee,
	}
	fx.coord = decryption.NewCoordinator(fx.store, committee, decryption.ReceiverFunc(func(r decryption.Resolution) {
		fx.mu.Lock()
		fx.delivered = append(fx.delivered, r)
		fx.mu.Unlock()
	}), logger.Nop())
	return fx
}

func (fx *fixture) enc(t *testing.T, v uint64) fhe.Handle {
	t.Helper()
	h, err := fx.store.Encrypt(v, fhe.Uint32)
	require.NoError(t, err)
	return h
}

// prove decrypts the snapshot the way the oracle does and signs with the
// given members.
func (fx *fixture) prove(t *testing.T, id uuid.UUID, signers ...int) ([]uint64, decryption.Proof) {
	t.Helper()
	req, err := fx.coord.Get(id)
	require.NoError(t, err)

	values := make([]uint64, len(req.Payloads))
	for i, p := range req.Payloads {
		values[i], err = fx.rt.Decrypt(p, req.Types[i])
		require.NoError(t, err)
	}
	return values, fx.sign(t, id, req.Digests, values, signers...)
}

func (fx *fixture) sign(t *testing.T, id uuid.UUID, digests []fhe.Digest, values []uint64, signers ...int) decryption.Proof {
	t.Helper()
	d := decryption.Digest(id, digests, values)
	sigs := make(map[uint][]byte)
	for _, i := range signers {
		sig, err := ecdsa.SignASN1(rand.Reader, fx.members[i], d[:])
		require.NoError(t, err)
		sigs[uint(i)] = sig
	}
	return decryption.AssembleProof(sigs)
}

func (fx *fixture) deliveries() []decryption.Resolution {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]decryption.Resolution(nil), fx.delivered...)
}

func TestResolve_DeliversOnce(t *testing.T) {
	fx := newFixture(t)
	handles := []fhe.Handle{fx.enc(t, 29971), fx.enc(t, 79), fx.enc(t, 36)}

	id, err := fx.coord.Request(1, "0xborrower", handles)
	require.NoError(t, err)
	require.Len(t, fx.coord.Pending(), 1)

	values, proof := fx.prove(t, id, 0, 2)
	assert.Equal(t, []uint64{29971, 79, 36}, values)
	require.NoError(t, fx.coord.Resolve(id, values, proof))

	err = fx.coord.Resolve(id, values, proof)
	assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed)

	got := fx.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Subject)
	assert.Equal(t, "0xborrower", got[0].Requester)
	assert.Equal(t, values, got[0].Cleartexts)
	assert.Empty(t, fx.coord.Pending())
	assert.True(t, fx.coord.Revealed(1))

	req, err := fx.coord.Get(id)
	require.NoError(t, err)
	assert.Equal(t, decryption.StatusResolved, req.Status)
	assert.Equal(t, values, req.Cleartexts)
	assert.Nil(t, req.Payloads)
}

func TestResolve_InvalidProofKeepsRequestPending(t *testing.T) {
	fx := newFixture(t)
	id, err := fx.coord.Request(7, "0xa", []fhe.Handle{fx.enc(t, 5)})
	require.NoError(t, err)

	values, _ := fx.prove(t, id)
	req, err := fx.coord.Get(id)
	require.NoError(t, err)

	// below threshold
	err = fx.coord.Resolve(id, values, fx.sign(t, id, req.Digests, values, 1))
	assert.ErrorIs(t, err, decryption.ErrInvalidProof)

	// signatures over a different cleartext
	forged := fx.sign(t, id, req.Digests, []uint64{6}, 0, 1)
	err = fx.coord.Resolve(id, values, forged)
	assert.ErrorIs(t, err, decryption.ErrInvalidProof)

	// wrong arity
	err = fx.coord.Resolve(id, []uint64{5, 5}, fx.sign(t, id, req.Digests, []uint64{5, 5}, 0, 1))
	assert.ErrorIs(t, err, decryption.ErrInvalidProof)

	assert.Len(t, fx.coord.Pending(), 1)
	assert.Empty(t, fx.deliveries())

	require.NoError(t, fx.coord.Resolve(id, values, fx.sign(t, id, req.Digests, values, 0, 1)))
	assert.Len(t, fx.deliveries(), 1)
}

func TestResolve_UnknownRequest(t *testing.T) {
	fx := newFixture(t)
	err := fx.coord.Resolve(uuid.New(), []uint64{1}, decryption.Proof{})
	assert.ErrorIs(t, err, decryption.ErrUnknownRequest)
}

func TestRequest_AfterRevealFails(t *testing.T) {
	fx := newFixture(t)
	h := fx.enc(t, 1)

	first, err := fx.coord.Request(3, "0xa", []fhe.Handle{h})
	require.NoError(t, err)
	second, err := fx.coord.Request(3, "0xa", []fhe.Handle{h})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	values, proof := fx.prove(t, first, 0, 1)
	require.NoError(t, fx.coord.Resolve(first, values, proof))

	_, err = fx.coord.Request(3, "0xa", []fhe.Handle{h})
	assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed)

	values, proof = fx.prove(t, second, 1, 2)
	err = fx.coord.Resolve(second, values, proof)
	assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed)
	assert.Len(t, fx.deliveries(), 1)
}

func TestResolve_RevealedSubjectBeforeProof(t *testing.T) {
	fx := newFixture(t)
	h := fx.enc(t, 1)

	first, err := fx.coord.Request(4, "0xa", []fhe.Handle{h})
	require.NoError(t, err)
	second, err := fx.coord.Request(4, "0xa", []fhe.Handle{h})
	require.NoError(t, err)

	values, proof := fx.prove(t, first, 0, 1)
	require.NoError(t, fx.coord.Resolve(first, values, proof))

	err = fx.coord.Resolve(second, values, decryption.Proof{})
	assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed)
	assert.NotErrorIs(t, err, decryption.ErrInvalidProof)

	req, err := fx.coord.Get(second)
	require.NoError(t, err)
	assert.Equal(t, decryption.StatusSuperseded, req.Status)
	assert.Len(t, fx.deliveries(), 1)
}

func TestRequest_InvalidHandle(t *testing.T) {
	fx := newFixture(t)
	h := fx.enc(t, 1)
	require.NoError(t, fx.store.Discard(h))

	_, err := fx.coord.Request(1, "0xa", []fhe.Handle{h})
	assert.ErrorIs(t, err, fhe.ErrInvalidHandle)
}

func TestResolve_ConcurrentExactlyOnce(t *testing.T) {
	fx := newFixture(t)
	h := fx.enc(t, 11)

	ids := make([]uuid.UUID, 4)
	proofs := make([]decryption.Proof, len(ids))
	clears := make([][]uint64, len(ids))
	for i := range ids {
		var err error
		ids[i], err = fx.coord.Request(9, "0xa", []fhe.Handle{h})
		require.NoError(t, err)
		clears[i], proofs[i] = fx.prove(t, ids[i], 0, 1, 2)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		revealed  atomic.Int32
	)
	for round := 0; round < 3; round++ {
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := fx.coord.Resolve(ids[i], clears[i], proofs[i])
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, decryption.ErrAlreadyRevealed):
					revealed.Add(1)
				}
			}(i)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(3*len(ids)-1), revealed.Load())
	assert.Len(t, fx.deliveries(), 1)
}

func TestCommittee_Validation(t *testing.T) {
	_, err := decryption.NewCommittee(nil, 1)
	assert.Error(t, err)

	sk, err := key.GenerateECDSAKey()
	require.NoError(t, err)
	_, err = decryption.NewCommittee([]*ecdsa.PublicKey{&sk.PublicKey}, 2)
	assert.Error(t, err)

	c, err := decryption.NewCommittee([]*ecdsa.PublicKey{&sk.PublicKey}, 1)
	require.NoError(t, err)
	i, ok := c.Index(&sk.PublicKey)
	assert.True(t, ok)
	assert.Equal(t, uint(0), i)

	d := decryption.Digest(uuid.New(), nil, []uint64{1})
	sig, err := ecdsa.SignASN1(rand.Reader, sk, d[:])
	require.NoError(t, err)
	assert.NoError(t, c.Verify(d, decryption.AssembleProof(map[uint][]byte{0: sig})))
	assert.ErrorIs(t, c.Verify(d, decryption.AssembleProof(map[uint][]byte{1: sig})), decryption.ErrInvalidProof)
	assert.ErrorIs(t, c.Verify(d, decryption.Proof{}), decryption.ErrInvalidProof)
}
