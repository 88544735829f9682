package decryption

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// digestDomain separates decryption attestations from any other message the
// committee keys might sign.
const digestDomain = "amortiza/decryption/v1"

// Committee is the set of oracle public keys and the number of them that
// must sign a resolution.
type Committee struct {
	keys      []*ecdsa.PublicKey
	threshold int
}

// NewCommittee returns a t-of-len(keys) committee.
func NewCommittee(keys []*ecdsa.PublicKey, threshold int) (*Committee, error) {
	if len(keys) == 0 {
		return nil, errors.New("empty committee")
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, errors.Errorf("threshold %d outside [1, %d]", threshold, len(keys))
	}
	for i, k := range keys {
		if k == nil {
			return nil, errors.Errorf("member %d has nil public key", i)
		}
	}
	return &Committee{keys: keys, threshold: threshold}, nil
}

func (c *Committee) Size() int { return len(c.keys) }
func (c *Committee) Threshold() int { return c.threshold }

// Index returns the position of pk in the committee.
func (c *Committee) Index(pk *ecdsa.PublicKey) (uint, bool) {
	for i, k := range c.keys {
		if k.Equal(pk) {
			return uint(i), true
		}
	}
	return 0, false
}

// Proof is a threshold attestation: the set of signing members and their
// ASN.1 ECDSA signatures, ordered by member index.
type Proof struct {
	Signers    *bitset.BitSet `json:"signers"`
	Signatures [][]byte       `json:"signatures"`
}

// AssembleProof builds a proof from signatures keyed by member index.
func AssembleProof(sigs map[uint][]byte) Proof {
	idx := make([]uint, 0, len(sigs))
	for i := range sigs {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	p := Proof{Signers: bitset.New(0), Signatures: make([][]byte, 0, len(idx))}
	for _, i := range idx {
		p.Signers.Set(i)
		p.Signatures = append(p.Signatures, sigs[i])
	}
	return p
}

// Digest is the message the committee signs for a resolution: the request
// id bound to every ciphertext digest and every claimed cleartext.
func Digest(requestID uuid.UUID, digests []fhe.Digest, cleartexts []uint64) [32]byte {
	h := sha256.New()
	h.Write([]byte(digestDomain))
	h.Write(requestID[:])
	for _, d := range digests {
		h.Write(d[:])
	}
	var buf [8]byte
	for _, v := range cleartexts {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Verify checks that at least Threshold distinct listed members signed
// digest.
func (c *Committee) Verify(digest [32]byte, p Proof) error {
	if p.Signers == nil || p.Signers.Count() == 0 {
		return errors.Wrap(ErrInvalidProof, "no signers")
	}
	if int(p.Signers.Count()) != len(p.Signatures) {
		return errors.Wrapf(ErrInvalidProof, "%d signers but %d signatures", p.Signers.Count(), len(p.Signatures))
	}

	valid := 0
	n := 0
	for i, ok := p.Signers.NextSet(0); ok; i, ok = p.Signers.NextSet(i + 1) {
		if i >= uint(len(c.keys)) {
			return errors.Wrapf(ErrInvalidProof, "signer index %d exceeds committee size %d", i, len(c.keys))
		}
		if ecdsa.VerifyASN1(c.keys[i], digest[:], p.Signatures[n]) {
			valid++
		}
		n++
	}
	if valid < c.threshold {
		return errors.Wrapf(ErrInvalidProof, "%d valid signatures, need %d", valid, c.threshold)
	}
	return nil
}
