package config

import (
	"encoding/hex"
	"errors"
	"time"
)

// Defaults applied after merging.
const (
	DefaultHTTPAddress    = "localhost:8080"
	DefaultRequestTimeout = 30 * time.Second
	DefaultDSN            = "file:amortiza.db?_fk=1"
	DefaultKeyDir         = "keys"
	DefaultFreshBudget    = 100
	DefaultFloor          = 10
	DefaultMaxExponent    = 600
	DefaultMaxTermMonths  = 600
	DefaultTokenIssuer    = "amortiza"
	DefaultTokenDuration  = 24 * time.Hour
	DefaultThreshold      = 2
	DefaultPollInterval   = 2 * time.Second
	DefaultServerURL      = "http://localhost:8080"
	DefaultLogLevel       = "info"

	// minBudgetHeadroom is the cost of the most expensive engine operation.
	minBudgetHeadroom = 10
)

var (
	ErrInvalidEngineConfigs = errors.New("invalid engine configuration")
	ErrInvalidOracleConfigs = errors.New("invalid oracle configuration")
)

func (cfg *StructuredConfig) applyDefaults() {
	setDefault(&cfg.Server.HTTPAddress, DefaultHTTPAddress)
	setDefault(&cfg.Server.RequestTimeout, DefaultRequestTimeout)
	setDefault(&cfg.Storage.DSN, DefaultDSN)
	setDefault(&cfg.Engine.Runtime, RuntimeLattice)
	setDefault(&cfg.Engine.KeyDir, DefaultKeyDir)
	setDefault(&cfg.Engine.FreshBudget, DefaultFreshBudget)
	setDefault(&cfg.Engine.Floor, DefaultFloor)
	setDefault(&cfg.Engine.MaxExponent, DefaultMaxExponent)
	setDefault(&cfg.Engine.MaxTermMonths, DefaultMaxTermMonths)
	setDefault(&cfg.Auth.TokenIssuer, DefaultTokenIssuer)
	setDefault(&cfg.Auth.TokenDuration, DefaultTokenDuration)
	setDefault(&cfg.Oracle.Threshold, DefaultThreshold)
	setDefault(&cfg.Oracle.PollInterval, DefaultPollInterval)
	setDefault(&cfg.Oracle.ServerURL, DefaultServerURL)
	setDefault(&cfg.LogLevel, DefaultLogLevel)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func (cfg *StructuredConfig) validate() error {
	e := cfg.Engine
	if e.Runtime != RuntimeLattice && e.Runtime != RuntimeSealed {
		return errors.Join(ErrInvalidEngineConfigs, errors.New("unknown runtime "+e.Runtime))
	}
	if e.Floor < 0 || e.FreshBudget-e.Floor < minBudgetHeadroom {
		return errors.Join(ErrInvalidEngineConfigs, errors.New("fresh budget must exceed the floor by at least one division"))
	}
	if e.MaxTermMonths <= 0 || e.MaxTermMonths > e.MaxExponent {
		return errors.Join(ErrInvalidEngineConfigs, errors.New("max term must be within the exponent bound"))
	}
	if e.SealedKey != "" {
		k, err := hex.DecodeString(e.SealedKey)
		if err != nil || len(k) != 32 {
			return errors.Join(ErrInvalidEngineConfigs, errors.New("sealed key must be 32 hex encoded bytes"))
		}
	}
	if cfg.Oracle.Threshold < 1 {
		return ErrInvalidOracleConfigs
	}
	return nil
}
