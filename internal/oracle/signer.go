// Package oracle is the off-ledger side of the decryption protocol. It reads
// pending requests, decrypts their payload snapshots, has the committee
// members it holds sign the result and posts the resolution back.
package oracle

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/CamberLoid/Amortiza/internal/decryption"
)

var ErrBelowThreshold = errors.New("not enough committee members to reach the threshold")

// Signer holds the private keys of some committee members.
type Signer struct {
	committee *decryption.Committee
	members   map[uint]*ecdsa.PrivateKey
}

// NewSigner matches keys against the committee. Keys that are not members
// are rejected, and together the members must reach the threshold.
func NewSigner(committee *decryption.Committee, keys []*ecdsa.PrivateKey) (*Signer, error) {
	s := &Signer{committee: committee, members: make(map[uint]*ecdsa.PrivateKey, len(keys))}
	for _, sk := range keys {
		i, ok := committee.Index(&sk.PublicKey)
		if !ok {
			return nil, errors.New("key is not a committee member")
		}
		s.members[i] = sk
	}
	if len(s.members) < committee.Threshold() {
		return nil, errors.Wrapf(ErrBelowThreshold, "%d of %d", len(s.members), committee.Threshold())
	}
	return s, nil
}

func (s *Signer) Members() int { return len(s.members) }

// Sign has every held member sign digest concurrently.
func (s *Signer) Sign(ctx context.Context, digest [32]byte) (decryption.Proof, error) {
	var mu sync.Mutex
	sigs := make(map[uint][]byte, len(s.members))

	g, ctx := errgroup.WithContext(ctx)
	for i, sk := range s.members {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sig, err := ecdsa.SignASN1(rand.Reader, sk, digest[:])
			if err != nil {
				return errors.Wrapf(err, "member %d", i)
			}
			mu.Lock()
			sigs[i] = sig
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decryption.Proof{}, err
	}
	return decryption.AssembleProof(sigs), nil
}
