package key

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/decryption"
)

// CommitteeFile is the on-disk form of the decryption committee. The oracle
// keeps the private scalars; the copy given to the server may omit them.
type CommitteeFile struct {
	Threshold int                   `json:"threshold"`
	Members   []ECDSAPrivateKeyJSON `json:"members"`
}

// GenerateCommittee creates n fresh member keys with threshold t.
func GenerateCommittee(n, t int) (*CommitteeFile, []*ecdsa.PrivateKey, error) {
	if n < 1 || t < 1 || t > n {
		return nil, nil, errors.Errorf("invalid committee %d-of-%d", t, n)
	}
	f := &CommitteeFile{Threshold: t, Members: make([]ECDSAPrivateKeyJSON, n)}
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		sk, err := GenerateECDSAKey()
		if err != nil {
			return nil, nil, errors.Wrap(err, "generate member key")
		}
		keys[i] = sk
		f.Members[i] = privkeyToJSON(sk)
	}
	return f, keys, nil
}

// Public returns a copy of f without the private scalars.
func (f *CommitteeFile) Public() *CommitteeFile {
	out := &CommitteeFile{Threshold: f.Threshold, Members: make([]ECDSAPrivateKeyJSON, len(f.Members))}
	for i, m := range f.Members {
		out.Members[i] = ECDSAPrivateKeyJSON{ECDSAPubkeyJSON: m.ECDSAPubkeyJSON}
	}
	return out
}

// PublicKeys returns the member keys in file order.
func (f *CommitteeFile) PublicKeys() ([]*ecdsa.PublicKey, error) {
	keys := make([]*ecdsa.PublicKey, len(f.Members))
	for i, m := range f.Members {
		pk, err := m.PublicKey()
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		keys[i] = pk
	}
	return keys, nil
}

// PrivateKeys returns the member signing keys; every member must carry d.
func (f *CommitteeFile) PrivateKeys() ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, len(f.Members))
	for i, m := range f.Members {
		sk, err := m.PrivateKey()
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		keys[i] = sk
	}
	return keys, nil
}

// HeldKeys returns the signing keys of the members whose private scalar is
// present.
func (f *CommitteeFile) HeldKeys() ([]*ecdsa.PrivateKey, error) {
	var keys []*ecdsa.PrivateKey
	for i, m := range f.Members {
		if m.D == "" {
			continue
		}
		sk, err := m.PrivateKey()
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		keys = append(keys, sk)
	}
	return keys, nil
}

// Committee builds the verifying committee. threshold overrides the file's
// when the file has none.
func (f *CommitteeFile) Committee(threshold int) (*decryption.Committee, error) {
	if f.Threshold > 0 {
		threshold = f.Threshold
	}
	pubs, err := f.PublicKeys()
	if err != nil {
		return nil, err
	}
	return decryption.NewCommittee(pubs, threshold)
}

func ReadCommitteeFile(path string) (*CommitteeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read committee file")
	}
	var f CommitteeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode committee file")
	}
	return &f, nil
}

func WriteCommitteeFile(path string, f *CommitteeFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "write committee file")
}
