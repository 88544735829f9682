package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// NetAddress is a host:port pair usable as a flag.Value.
type NetAddress struct {
	Host string
	Port int
}

// ParseFlags parses the server flags from the process arguments.
//
//	-a        listen address host:port
//	-d        sqlite DSN
//	-c        JSON config file path (alias -config)
//	-runtime  lattice | sealed
//	-key-dir  lattice key directory
//	-committee committee JSON file
//	-threshold proof threshold
//	-token-sign-key, -token-issuer, -token-duration
//	-request-timeout
//	-log-level
func ParseFlags() *StructuredConfig {
	cfg, err := parseFlagSet(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.CommandLine exits on error, unreachable in practice.
		return &StructuredConfig{}
	}
	return cfg
}

func parseFlagSet(fs *flag.FlagSet, args []string) (*StructuredConfig, error) {
	var (
		address        NetAddress
		dsn            string
		jsonConfigPath string
		runtimeName    string
		keyDir         string
		committeeFile  string
		threshold      int
		tokenSignKey   string
		tokenIssuer    string
		tokenDuration  time.Duration
		requestTimeout time.Duration
		logLevel       string
	)

	fs.Var(&address, "a", "Net address host:port")
	fs.StringVar(&dsn, "d", "", "Database DSN")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	fs.StringVar(&runtimeName, "runtime", "", "FHE runtime: lattice or sealed")
	fs.StringVar(&keyDir, "key-dir", "", "Lattice key directory")
	fs.StringVar(&committeeFile, "committee", "", "Decryption committee file")
	fs.IntVar(&threshold, "threshold", 0, "Decryption proof threshold")
	fs.StringVar(&tokenSignKey, "token-sign-key", "", "Token signing key")
	fs.StringVar(&tokenIssuer, "token-issuer", "", "Token issuer")
	fs.DurationVar(&tokenDuration, "token-duration", 0, "Token duration (e.g., 1h, 30m)")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	fs.StringVar(&logLevel, "log-level", "", "Log level")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "error parsing flags")
	}

	return &StructuredConfig{
		Server: Server{
			HTTPAddress:    address.String(),
			RequestTimeout: requestTimeout,
		},
		Storage: Storage{DSN: dsn},
		Engine: Engine{
			Runtime: runtimeName,
			KeyDir:  keyDir,
		},
		Auth: Auth{
			TokenSignKey:  tokenSignKey,
			TokenIssuer:   tokenIssuer,
			TokenDuration: tokenDuration,
		},
		Oracle: Oracle{
			CommitteeFile: committeeFile,
			Threshold:     threshold,
		},
		LogLevel:     logLevel,
		JSONFilePath: jsonConfigPath,
	}, nil
}

func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Set parses host:port. Hosts other than "localhost" must be IP literals.
func (a *NetAddress) Set(s string) error {
	hostAndPort := strings.Split(s, ":")
	if len(hostAndPort) != 2 {
		return errors.New("need address in a form `host:port`")
	}

	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		return err
	}
	if port < 1 {
		return errors.New("port number is a positive integer")
	}

	host := hostAndPort[0]
	if host != "localhost" && host != "" && net.ParseIP(host) == nil {
		return errors.New("incorrect IP-address provided")
	}

	a.Host = host
	a.Port = port
	return nil
}
