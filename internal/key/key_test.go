package key_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamberLoid/Amortiza/internal/config"
	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
)

func TestECDSAJSONRoundTrip(t *testing.T) {
	sk, err := key.GenerateECDSAKey()
	require.NoError(t, err)

	decoded, err := key.DecodeJSONToECDSAPrivateKey(key.EncodeECDSAPrivateKeyToJSON(sk))
	require.NoError(t, err)
	assert.True(t, sk.Equal(decoded))

	pk, err := key.DecodeJSONToECDSAPubkey(key.EncodeECDSAPubkeyToJSON(&sk.PublicKey))
	require.NoError(t, err)
	assert.True(t, sk.PublicKey.Equal(pk))

	hash := sha256.Sum256([]byte("message"))
	sig, err := ecdsa.SignASN1(rand.Reader, decoded, hash[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(pk, hash[:], sig))
}

func TestDecodeJSONToECDSAPubkey_Invalid(t *testing.T) {
	_, err := key.DecodeJSONToECDSAPubkey([]byte(`{"x":"1","y":"2","curve":"P-256"}`))
	assert.Error(t, err)

	_, err = key.DecodeJSONToECDSAPubkey([]byte(`{"x":"1","y":"2","curve":"secp256k1"}`))
	assert.Error(t, err)
}

func TestCommitteeFile(t *testing.T) {
	f, keys, err := key.GenerateCommittee(3, 2)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	path := filepath.Join(t.TempDir(), "committee.json")
	require.NoError(t, key.WriteCommitteeFile(path, f))

	read, err := key.ReadCommitteeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, read.Threshold)

	priv, err := read.PrivateKeys()
	require.NoError(t, err)
	for i := range keys {
		assert.True(t, keys[i].Equal(priv[i]))
	}

	public := read.Public()
	_, err = public.PrivateKeys()
	assert.Error(t, err)
	pubs, err := public.PublicKeys()
	require.NoError(t, err)
	assert.True(t, keys[1].PublicKey.Equal(pubs[1]))

	_, _, err = key.GenerateCommittee(2, 3)
	assert.Error(t, err)
}

func TestLoadOrCreateCKKSKeys(t *testing.T) {
	dir := t.TempDir()

	sk, pk, created, err := key.LoadOrCreateCKKSKeys(dir)
	require.NoError(t, err)
	assert.True(t, created)

	sk2, pk2, created, err := key.LoadOrCreateCKKSKeys(dir)
	require.NoError(t, err)
	assert.False(t, created)

	// a payload encrypted under the first public key opens with the
	// reloaded secret key and vice versa
	rt, err := coprocessor.NewLattice(sk2, pk2)
	require.NoError(t, err)
	p, err := coprocessor.EncryptWithPublicKey(pk, 4242, fhe.Uint32)
	require.NoError(t, err)
	v, err := rt.Decrypt(p, fhe.Uint32)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), v)

	orig, err := coprocessor.NewLattice(sk, pk)
	require.NoError(t, err)
	p, err = rt.Encrypt(17, fhe.Uint32)
	require.NoError(t, err)
	v, err = orig.Decrypt(p, fhe.Uint32)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), v)
}

func TestLoadOrCreateCKKSKeys_Incomplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, key.SecretKeyFile), []byte("x"), 0o600))

	_, _, _, err := key.LoadOrCreateCKKSKeys(dir)
	assert.Error(t, err)
}

func TestParseSealedKey(t *testing.T) {
	k, err := key.ParseSealedKey("")
	require.NoError(t, err)
	assert.Len(t, k, coprocessor.SealedKeySize)

	_, err = key.ParseSealedKey("abcd")
	assert.Error(t, err)

	_, err = key.ParseSealedKey("zz")
	assert.Error(t, err)
}

func TestCommitteeFile_HeldKeys(t *testing.T) {
	f, keys, err := key.GenerateCommittee(3, 2)
	require.NoError(t, err)

	partial := f.Public()
	partial.Members[1].D = f.Members[1].D
	held, err := partial.HeldKeys()
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.True(t, keys[1].Equal(held[0]))

	c, err := partial.Committee(3)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Threshold())
	assert.Equal(t, 3, c.Size())
}

func TestRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Engine{Runtime: config.RuntimeLattice, KeyDir: dir}

	_, err := key.Runtime(cfg, false)
	assert.Error(t, err, "the oracle must not invent keys")

	server, err := key.Runtime(cfg, true)
	require.NoError(t, err)
	payload, err := server.Encrypt(1234, fhe.Uint32)
	require.NoError(t, err)

	oracle, err := key.Runtime(cfg, false)
	require.NoError(t, err)
	v, err := oracle.Decrypt(payload, fhe.Uint32)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), v)

	_, err = key.Runtime(config.Engine{Runtime: config.RuntimeSealed}, false)
	assert.Error(t, err)
	rt, err := key.Runtime(config.Engine{Runtime: config.RuntimeSealed}, true)
	require.NoError(t, err)
	assert.Equal(t, "sealed", rt.Name())

	_, err = key.Runtime(config.Engine{Runtime: "quantum"}, true)
	assert.Error(t, err)
}
