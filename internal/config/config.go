// Package config loads the runtime configuration of the ledger server and
// the decryption oracle.
//
// Values come from environment variables, command-line flags and an optional
// JSON file. Sources are merged with mergo in that order (the first non-zero
// value wins), then defaults are applied and the result is validated.
package config

import (
	"time"
)

// Runtime names accepted by Engine.Runtime.
const (
	RuntimeLattice = "lattice"
	RuntimeSealed  = "sealed"
)

// StructuredConfig is the top-level configuration container.
type StructuredConfig struct {
	Server  Server  `envPrefix:"SERVER_"`
	Storage Storage `envPrefix:"STORAGE_"`
	Engine  Engine  `envPrefix:"ENGINE_"`
	Auth    Auth    `envPrefix:"AUTH_"`
	Oracle  Oracle  `envPrefix:"ORACLE_"`

	// LogLevel is a zerolog level name. Env: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// Env: CONFIG
	JSONFilePath string `env:"CONFIG"`
}

// Server holds the HTTP listener settings.
type Server struct {
	// Env: SERVER_ADDRESS
	HTTPAddress string `env:"ADDRESS"`
	// Env: SERVER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// Storage holds the record database settings.
type Storage struct {
	// DSN is the sqlite data source name, e.g. "file:amortiza.db?_fk=1".
	// Env: STORAGE_DSN
	DSN string `env:"DSN"`
}

// Engine configures the FHE runtime and the noise policy of the operation
// engine.
type Engine struct {
	// Runtime is either "lattice" or "sealed". Env: ENGINE_RUNTIME
	Runtime string `env:"RUNTIME"`

	// KeyDir holds sk.bin and pk.bin for the lattice runtime. Keys are
	// generated there on first start. Env: ENGINE_KEY_DIR
	KeyDir string `env:"KEY_DIR"`

	// SealedKey is the hex encoded 32-byte key of the sealed runtime.
	// A random key is used when empty. Env: ENGINE_SEALED_KEY
	SealedKey string `env:"SEALED_KEY"`

	FreshBudget   int `env:"FRESH_BUDGET"`
	Floor         int `env:"FLOOR"`
	MaxExponent   int `env:"MAX_EXPONENT"`
	MaxTermMonths int `env:"MAX_TERM_MONTHS"`
}

// Auth configures bearer token issuance and verification.
type Auth struct {
	// Env: AUTH_TOKEN_SIGN_KEY
	TokenSignKey string `env:"TOKEN_SIGN_KEY"`
	// Env: AUTH_TOKEN_ISSUER
	TokenIssuer string `env:"TOKEN_ISSUER"`
	// Env: AUTH_TOKEN_DURATION
	TokenDuration time.Duration `env:"TOKEN_DURATION"`
}

// Oracle configures the decryption committee and the relayer.
type Oracle struct {
	// CommitteeFile is a JSON file with the committee keys. The server only
	// reads the public halves. Env: ORACLE_COMMITTEE_FILE
	CommitteeFile string `env:"COMMITTEE_FILE"`
	// Threshold is the number of committee signatures a proof needs.
	// Env: ORACLE_THRESHOLD
	Threshold int `env:"THRESHOLD"`
	// ServerURL is the base URL of the ledger server. Env: ORACLE_SERVER_URL
	ServerURL string `env:"SERVER_URL"`
	// Token is the bearer token the relayer presents. Env: ORACLE_TOKEN
	Token string `env:"TOKEN"`
	// PollInterval is the delay between two pending-request polls.
	// Env: ORACLE_POLL_INTERVAL
	PollInterval time.Duration `env:"POLL_INTERVAL"`
}

// GetStructuredConfig loads the server configuration from environment,
// command-line flags and the JSON file they point at.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags(ParseFlags()).
		withJSON().
		build()
}

// GetOracleConfig loads the oracle configuration from environment and the
// given JSON file (may be empty). Flags belong to the oracle's CLI.
func GetOracleConfig(jsonPath string) (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags(&StructuredConfig{JSONFilePath: jsonPath}).
		withJSON().
		build()
}
