package key

import (
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/config"
	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/fhe"
)

// Runtime builds the FHE runtime cfg names. The server passes create so a
// first start generates a lattice key pair or a random sealed key; the
// oracle must decrypt existing payloads and does not.
func Runtime(cfg config.Engine, create bool) (fhe.Runtime, error) {
	switch cfg.Runtime {
	case config.RuntimeLattice:
		if !create {
			sk, pk, err := ReadCKKSKeys(cfg.KeyDir)
			if err != nil {
				return nil, err
			}
			return coprocessor.NewLattice(sk, pk)
		}
		sk, pk, _, err := LoadOrCreateCKKSKeys(cfg.KeyDir)
		if err != nil {
			return nil, err
		}
		return coprocessor.NewLattice(sk, pk)
	case config.RuntimeSealed:
		if cfg.SealedKey == "" && !create {
			return nil, errors.New("sealed runtime needs the server's sealed key")
		}
		k, err := ParseSealedKey(cfg.SealedKey)
		if err != nil {
			return nil, err
		}
		return coprocessor.NewSealed(k)
	}
	return nil, errors.Errorf("unknown runtime %q", cfg.Runtime)
}
