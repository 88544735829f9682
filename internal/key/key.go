// Package key generates, stores and loads the key material of the system:
// the CKKS key pair of the lattice runtime, the sealed runtime key and the
// ECDSA keys of the decryption committee.
package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/CamberLoid/Amortiza/internal/coprocessor"
)

// Committee keys use P-256.
var ECDSACurve elliptic.Curve = elliptic.P256()

// GenerateECDSAKey returns a committee signing key.
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(ECDSACurve, rand.Reader)
}

// GenerateCKKSKeyPair returns a key pair for the lattice runtime.
func GenerateCKKSKeyPair() (*rlwe.SecretKey, *rlwe.PublicKey) {
	return ckks.NewKeyGenerator(coprocessor.Parameters()).GenKeyPair()
}

// ParseSealedKey decodes the hex form of a sealed runtime key. An empty
// string yields a fresh random key.
func ParseSealedKey(s string) ([]byte, error) {
	if s == "" {
		return coprocessor.GenerateSealedKey()
	}
	k, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "sealed key")
	}
	if len(k) != coprocessor.SealedKeySize {
		return nil, errors.Errorf("sealed key must be %d bytes, got %d", coprocessor.SealedKeySize, len(k))
	}
	return k, nil
}
