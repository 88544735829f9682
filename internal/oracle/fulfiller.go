package oracle

import (
	"context"

	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// ErrPayloadMismatch: a payload snapshot does not hash to the digest the
// ledger recorded for it.
var ErrPayloadMismatch = errors.New("payload does not match its digest")

// Decrypter opens runtime payloads. Both coprocessor runtimes implement it.
type Decrypter interface {
	Decrypt(payload []byte, t fhe.Type) (uint64, error)
}

// Fulfiller turns a pending request into cleartexts and a committee proof.
type Fulfiller struct {
	dec    Decrypter
	signer *Signer
}

func NewFulfiller(dec Decrypter, signer *Signer) *Fulfiller {
	return &Fulfiller{dec: dec, signer: signer}
}

func (f *Fulfiller) Fulfil(ctx context.Context, req decryption.Request) ([]uint64, decryption.Proof, error) {
	n := len(req.Handles)
	if len(req.Payloads) != n || len(req.Types) != n || len(req.Digests) != n {
		return nil, decryption.Proof{}, errors.Errorf("request %s is incomplete", req.ID)
	}

	cleartexts := make([]uint64, n)
	for i, p := range req.Payloads {
		if fhe.DigestOf(p) != req.Digests[i] {
			return nil, decryption.Proof{}, errors.Wrapf(ErrPayloadMismatch, "request %s handle %d", req.ID, i)
		}
		v, err := f.dec.Decrypt(p, req.Types[i])
		if err != nil {
			return nil, decryption.Proof{}, errors.Wrapf(err, "request %s handle %d", req.ID, i)
		}
		cleartexts[i] = v
	}

	proof, err := f.signer.Sign(ctx, decryption.Digest(req.ID, req.Digests, cleartexts))
	if err != nil {
		return nil, decryption.Proof{}, err
	}
	return cleartexts, proof, nil
}
