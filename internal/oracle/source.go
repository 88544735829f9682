package oracle

import (
	"context"

	"github.com/google/uuid"

	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/loan"
)

// Source is where the relayer finds pending requests and posts
// resolutions. *clientlib.Client is the HTTP implementation.
type Source interface {
	Pending(ctx context.Context) ([]decryption.Request, error)
	Resolve(ctx context.Context, id uuid.UUID, cleartexts []uint64, proof decryption.Proof) error
}

// LedgerSource serves an in-process ledger.
type LedgerSource struct {
	Ledger *loan.Ledger
}

func (s LedgerSource) Pending(context.Context) ([]decryption.Request, error) {
	return s.Ledger.Coordinator().Pending(), nil
}

func (s LedgerSource) Resolve(ctx context.Context, id uuid.UUID, cleartexts []uint64, proof decryption.Proof) error {
	return s.Ledger.ResolveDecryption(ctx, id, cleartexts, proof)
}
