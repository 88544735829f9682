package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// StructuredJSONConfig is the on-disk layout of the JSON config file.
type StructuredJSONConfig struct {
	Server struct {
		HTTPAddress    string   `json:"http_address"`
		RequestTimeout Duration `json:"request_timeout"`
	} `json:"server,omitempty"`

	Storage struct {
		DSN string `json:"dsn"`
	} `json:"storage,omitempty"`

	Engine struct {
		Runtime       string `json:"runtime"`
		KeyDir        string `json:"key_dir"`
		SealedKey     string `json:"sealed_key"`
		FreshBudget   int    `json:"fresh_budget"`
		Floor         int    `json:"floor"`
		MaxExponent   int    `json:"max_exponent"`
		MaxTermMonths int    `json:"max_term_months"`
	} `json:"engine,omitempty"`

	Auth struct {
		TokenSignKey  string   `json:"token_sign_key"`
		TokenIssuer   string   `json:"token_issuer"`
		TokenDuration Duration `json:"token_duration"`
	} `json:"auth,omitempty"`

	Oracle struct {
		CommitteeFile string   `json:"committee_file"`
		Threshold     int      `json:"threshold"`
		ServerURL     string   `json:"server_url"`
		Token         string   `json:"token"`
		PollInterval  Duration `json:"poll_interval"`
	} `json:"oracle,omitempty"`

	LogLevel string `json:"log_level"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading a json file")
	}
	defer jsonFile.Close()

	var j StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&j); err != nil {
		return nil, errors.Wrap(err, "error decoding json configs")
	}

	return &StructuredConfig{
		Server: Server{
			HTTPAddress:    j.Server.HTTPAddress,
			RequestTimeout: time.Duration(j.Server.RequestTimeout),
		},
		Storage: Storage{DSN: j.Storage.DSN},
		Engine: Engine{
			Runtime:       j.Engine.Runtime,
			KeyDir:        j.Engine.KeyDir,
			SealedKey:     j.Engine.SealedKey,
			FreshBudget:   j.Engine.FreshBudget,
			Floor:         j.Engine.Floor,
			MaxExponent:   j.Engine.MaxExponent,
			MaxTermMonths: j.Engine.MaxTermMonths,
		},
		Auth: Auth{
			TokenSignKey:  j.Auth.TokenSignKey,
			TokenIssuer:   j.Auth.TokenIssuer,
			TokenDuration: time.Duration(j.Auth.TokenDuration),
		},
		Oracle: Oracle{
			CommitteeFile: j.Oracle.CommitteeFile,
			Threshold:     j.Oracle.Threshold,
			ServerURL:     j.Oracle.ServerURL,
			Token:         j.Oracle.Token,
			PollInterval:  time.Duration(j.Oracle.PollInterval),
		},
		LogLevel: j.LogLevel,
	}, nil
}

// Duration unmarshals from either a number of nanoseconds or a string such
// as "1h" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
