package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

func parseEnv(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return errors.Wrap(err, "error getting env configs")
	}
	return nil
}
