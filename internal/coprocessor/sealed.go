// Package coprocessor holds the FHE runtimes the engine orchestrates.
//
// Lattice keeps values as lattigo CKKS ciphertexts and evaluates additions
// homomorphically. Sealed keeps values under an XChaCha20-Poly1305 key and is
// meant for development and tests.
package coprocessor

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// ErrMalformedPayload is returned for payloads the runtime cannot open.
var ErrMalformedPayload = errors.New("malformed ciphertext payload")

// SealedKeySize is the key length of the sealed runtime.
const SealedKeySize = chacha20poly1305.KeySize

// Sealed is an AEAD-backed runtime. A payload is nonce || seal(value) with
// the type byte as additional data, so a payload cannot be replayed as
// another width.
type Sealed struct {
	aead cipher.AEAD
}

var _ fhe.Runtime = (*Sealed)(nil)

// NewSealed returns a sealed runtime keyed with key.
func NewSealed(key []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "sealed runtime key")
	}
	return &Sealed{aead: aead}, nil
}

// GenerateSealedKey returns a random key for NewSealed.
func GenerateSealedKey() ([]byte, error) {
	k := make([]byte, SealedKeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

func (s *Sealed) Name() string { return "sealed" }

func (s *Sealed) Encrypt(v uint64, t fhe.Type) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+8+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	var pt [8]byte
	binary.LittleEndian.PutUint64(pt[:], v&t.Mask())
	return s.aead.Seal(nonce, nonce, pt[:], []byte{byte(t)}), nil
}

// TrivialEncrypt is Encrypt: sealing is already cheap.
func (s *Sealed) TrivialEncrypt(v uint64, t fhe.Type) ([]byte, error) {
	return s.Encrypt(v, t)
}

func (s *Sealed) Validate(payload []byte, t fhe.Type) error {
	_, err := s.Decrypt(payload, t)
	return err
}

func (s *Sealed) Decrypt(payload []byte, t fhe.Type) (uint64, error) {
	ns := s.aead.NonceSize()
	if len(payload) != ns+8+s.aead.Overhead() {
		return 0, errors.Wrapf(ErrMalformedPayload, "length %d", len(payload))
	}
	pt, err := s.aead.Open(nil, payload[:ns], payload[ns:], []byte{byte(t)})
	if err != nil {
		return 0, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	v := binary.LittleEndian.Uint64(pt)
	if v&^t.Mask() != 0 {
		return 0, errors.Wrapf(ErrMalformedPayload, "value exceeds %s", t)
	}
	return v, nil
}

func (s *Sealed) Eval(op fhe.Op, in, out fhe.Type, args ...[]byte) ([]byte, error) {
	return evalClear(s, op, in, out, args)
}

func (s *Sealed) Refresh(payload []byte, t fhe.Type) ([]byte, error) {
	v, err := s.Decrypt(payload, t)
	if err != nil {
		return nil, err
	}
	return s.Encrypt(v, t)
}

// clearRuntime is the part of a runtime needed to evaluate an operation
// inside the key holder.
type clearRuntime interface {
	Encrypt(v uint64, t fhe.Type) ([]byte, error)
	Decrypt(payload []byte, t fhe.Type) (uint64, error)
}

// evalClear opens every argument, runs the kernel and seals the result.
func evalClear(rt clearRuntime, op fhe.Op, in, out fhe.Type, args [][]byte) ([]byte, error) {
	if len(args) != op.Arity() {
		return nil, errors.Errorf("%s takes %d arguments, got %d", op, op.Arity(), len(args))
	}
	vals := make([]uint64, len(args))
	for i, a := range args {
		v, err := rt.Decrypt(a, op.ArgType(i, in))
		if err != nil {
			return nil, errors.Wrapf(err, "%s argument %d", op, i)
		}
		vals[i] = v
	}
	r, err := fhe.Compute(op, in, out, vals...)
	if err != nil {
		return nil, err
	}
	return rt.Encrypt(r, out)
}
