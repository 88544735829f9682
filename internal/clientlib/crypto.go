package clientlib

import (
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
)

// Encryptor encrypts loan terms on the client with the service's CKKS
// public key, so plaintext amounts never leave the machine. The zero value
// has no key and encrypts nothing locally.
type Encryptor struct {
	pk *rlwe.PublicKey
}

// NewEncryptor decodes a marshalled public key as served on /keys/public.
func NewEncryptor(publicKey []byte) (*Encryptor, error) {
	pk, err := key.UnmarshalCKKSPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &Encryptor{pk: pk}, nil
}

// Local reports whether the encryptor holds a public key.
func (e *Encryptor) Local() bool { return e.pk != nil }

// Encrypt returns a lattice payload encrypting v as type t.
func (e *Encryptor) Encrypt(v uint64, t fhe.Type) ([]byte, error) {
	return coprocessor.EncryptWithPublicKey(e.pk, v, t)
}
