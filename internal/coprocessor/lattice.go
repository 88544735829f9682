package coprocessor

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

const (
	limbBits = 16
	maxLimbs = 4
)

// Parameters returns the CKKS parameter set shared by the server and the
// clients.
func Parameters() ckks.Parameters {
	params, err := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	if err != nil {
		// PN12QP109 is a vetted literal.
		panic(err)
	}
	return params
}

// Lattice stores values as CKKS ciphertexts whose first slots hold the
// 16-bit limbs of the value. Add and Sub are evaluated on the ciphertexts;
// the remaining operations run in the key holder.
type Lattice struct {
	params ckks.Parameters
	sk     *rlwe.SecretKey
	pk     *rlwe.PublicKey
}

var _ fhe.Runtime = (*Lattice)(nil)

// NewLattice returns a lattice runtime holding the given key pair.
func NewLattice(sk *rlwe.SecretKey, pk *rlwe.PublicKey) (*Lattice, error) {
	if sk == nil || pk == nil {
		return nil, errors.New("lattice runtime needs a key pair")
	}
	return &Lattice{params: Parameters(), sk: sk, pk: pk}, nil
}

func (l *Lattice) Name() string { return "lattice" }

// PublicKey is the key clients encrypt their inputs with.
func (l *Lattice) PublicKey() *rlwe.PublicKey { return l.pk }

func limbCount(t fhe.Type) int {
	n := int(t.Bits()+limbBits-1) / limbBits
	return max(n, 1)
}

// Limbs splits v into the slot vector for type t.
func Limbs(v uint64, t fhe.Type) []float64 {
	v &= t.Mask()
	out := make([]float64, limbCount(t))
	for i := range out {
		out[i] = float64((v >> (limbBits * i)) & (1<<limbBits - 1))
	}
	return out
}

// joinLimbs rounds every slot and recombines them modulo 2^bits. Slots may
// be negative or exceed 16 bits after homomorphic additions.
func joinLimbs(slots []complex128, t fhe.Type) uint64 {
	var v uint64
	for i := 0; i < limbCount(t) && i < len(slots); i++ {
		limb := int64(math.Round(real(slots[i])))
		v += uint64(limb) << (limbBits * i)
	}
	return v & t.Mask()
}

// EncryptWithPublicKey encrypts v for a lattice runtime holding the secret
// key matching pk. Clients use it to submit inputs.
func EncryptWithPublicKey(pk *rlwe.PublicKey, v uint64, t fhe.Type) (payload []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			payload = nil
			err = fmt.Errorf("ckks encrypt failed, got panic: %v", p)
		}
	}()

	params := Parameters()
	encoder := ckks.NewEncoder(params)
	pt := encoder.EncodeNew(Limbs(v, t), params.MaxLevel(), params.DefaultScale(), params.LogSlots())
	ct := ckks.NewEncryptor(params, pk).EncryptNew(pt)
	return ct.MarshalBinary()
}

func (l *Lattice) Encrypt(v uint64, t fhe.Type) ([]byte, error) {
	return EncryptWithPublicKey(l.pk, v, t)
}

// TrivialEncrypt is a public-key encryption; CKKS has no cheaper path that
// keeps the payload indistinguishable.
func (l *Lattice) TrivialEncrypt(v uint64, t fhe.Type) ([]byte, error) {
	return l.Encrypt(v, t)
}

func (l *Lattice) unmarshal(payload []byte) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if p := recover(); p != nil {
			ct = nil
			err = errors.Wrapf(ErrMalformedPayload, "panic: %v", p)
		}
	}()

	ct = ckks.NewCiphertext(l.params, 1, l.params.MaxLevel())
	if err := ct.UnmarshalBinary(payload); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if ct.Degree() != 1 {
		return nil, errors.Wrapf(ErrMalformedPayload, "degree %d", ct.Degree())
	}
	return ct, nil
}

func (l *Lattice) Validate(payload []byte, t fhe.Type) error {
	_, err := l.Decrypt(payload, t)
	return err
}

func (l *Lattice) Decrypt(payload []byte, t fhe.Type) (v uint64, err error) {
	ct, err := l.unmarshal(payload)
	if err != nil {
		return 0, err
	}

	defer func() {
		if p := recover(); p != nil {
			v = 0
			err = fmt.Errorf("ckks decrypt failed, got panic: %v", p)
		}
	}()

	pt := ckks.NewDecryptor(l.params, l.sk).DecryptNew(ct)
	slots := ckks.NewEncoder(l.params).Decode(pt, l.params.LogSlots())
	return joinLimbs(slots, t), nil
}

func (l *Lattice) Eval(op fhe.Op, in, out fhe.Type, args ...[]byte) ([]byte, error) {
	switch op {
	case fhe.OpAdd, fhe.OpSub:
		if len(args) != 2 {
			return nil, errors.Errorf("%s takes 2 arguments, got %d", op, len(args))
		}
		return l.linear(op, args[0], args[1])
	}
	return evalClear(l, op, in, out, args)
}

// linear adds or subtracts the limb vectors without the secret key.
func (l *Lattice) linear(op fhe.Op, a, b []byte) (payload []byte, err error) {
	ctA, err := l.unmarshal(a)
	if err != nil {
		return nil, err
	}
	ctB, err := l.unmarshal(b)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			payload = nil
			err = fmt.Errorf("calculating ciphertext failed: %v", p)
		}
	}()

	evaluator := ckks.NewEvaluator(l.params, rlwe.EvaluationKey{})
	if op == fhe.OpSub {
		ctB = evaluator.MultByConstNew(ctB, -1)
	}
	return evaluator.AddNew(ctA, ctB).MarshalBinary()
}

// Refresh decrypts and re-encrypts with normalised limbs.
func (l *Lattice) Refresh(payload []byte, t fhe.Type) ([]byte, error) {
	v, err := l.Decrypt(payload, t)
	if err != nil {
		return nil, err
	}
	return l.Encrypt(v, t)
}
