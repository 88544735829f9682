package key

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/CamberLoid/Amortiza/internal/coprocessor"
)

// File names inside a lattice key directory.
const (
	SecretKeyFile = "sk.bin"
	PublicKeyFile = "pk.bin"
)

type CKKSPayload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

func MarshalECDSAPublicKey(pk *ecdsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pk)
}

func UnmarshalECDSAPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, err
	}
	pk, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not a ecdsa public key, got %T", pub)
	}
	return pk, nil
}

func MarshalCKKSPayload(v CKKSPayload) ([]byte, error) {
	return v.MarshalBinary()
}

func UnmarshalCKKSPublicKey(data []byte) (pk *rlwe.PublicKey, err error) {
	defer func() {
		if p := recover(); p != nil {
			pk = nil
			err = fmt.Errorf("unmarshal public key failed, got panic: %v", p)
		}
	}()

	pk = rlwe.NewPublicKey(coprocessor.Parameters().Parameters)
	if err = pk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pk, nil
}

func UnmarshalCKKSSecretKey(data []byte) (sk *rlwe.SecretKey, err error) {
	defer func() {
		if p := recover(); p != nil {
			sk = nil
			err = fmt.Errorf("unmarshal secret key failed, got panic: %v", p)
		}
	}()

	sk = rlwe.NewSecretKey(coprocessor.Parameters().Parameters)
	if err = sk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return sk, nil
}

// LoadOrCreateCKKSKeys reads sk.bin and pk.bin from dir, generating and
// writing a new pair when neither exists. created reports the latter.
func LoadOrCreateCKKSKeys(dir string) (sk *rlwe.SecretKey, pk *rlwe.PublicKey, created bool, err error) {
	skPath := filepath.Join(dir, SecretKeyFile)
	pkPath := filepath.Join(dir, PublicKeyFile)

	skData, skErr := os.ReadFile(skPath)
	pkData, pkErr := os.ReadFile(pkPath)
	switch {
	case skErr == nil && pkErr == nil:
		if sk, err = UnmarshalCKKSSecretKey(skData); err != nil {
			return nil, nil, false, errors.Wrap(err, skPath)
		}
		if pk, err = UnmarshalCKKSPublicKey(pkData); err != nil {
			return nil, nil, false, errors.Wrap(err, pkPath)
		}
		return sk, pk, false, nil
	case os.IsNotExist(skErr) && os.IsNotExist(pkErr):
	default:
		return nil, nil, false, errors.Errorf("incomplete key directory %s", dir)
	}

	sk, pk = GenerateCKKSKeyPair()
	if err := WriteCKKSKeys(dir, sk, pk); err != nil {
		return nil, nil, false, err
	}
	return sk, pk, true, nil
}

// ReadCKKSKeys reads an existing key pair from dir.
func ReadCKKSKeys(dir string) (*rlwe.SecretKey, *rlwe.PublicKey, error) {
	skPath := filepath.Join(dir, SecretKeyFile)
	pkPath := filepath.Join(dir, PublicKeyFile)
	skData, err := os.ReadFile(skPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read secret key")
	}
	pkData, err := os.ReadFile(pkPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read public key")
	}
	sk, err := UnmarshalCKKSSecretKey(skData)
	if err != nil {
		return nil, nil, errors.Wrap(err, skPath)
	}
	pk, err := UnmarshalCKKSPublicKey(pkData)
	if err != nil {
		return nil, nil, errors.Wrap(err, pkPath)
	}
	return sk, pk, nil
}

// WriteCKKSKeys stores the pair in dir. The secret key is written 0600.
func WriteCKKSKeys(dir string, sk *rlwe.SecretKey, pk *rlwe.PublicKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create key directory")
	}
	skData, err := MarshalCKKSPayload(sk)
	if err != nil {
		return errors.Wrap(err, "marshal secret key")
	}
	pkData, err := MarshalCKKSPayload(pk)
	if err != nil {
		return errors.Wrap(err, "marshal public key")
	}
	if err := os.WriteFile(filepath.Join(dir, SecretKeyFile), skData, 0o600); err != nil {
		return errors.Wrap(err, "write secret key")
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), pkData, 0o644); err != nil {
		return errors.Wrap(err, "write public key")
	}
	return nil
}
