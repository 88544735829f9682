package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/CamberLoid/Amortiza/internal/clientlib"
	"github.com/CamberLoid/Amortiza/internal/config"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/logger"
	"github.com/CamberLoid/Amortiza/internal/oracle"
)

func main() {
	app := &cli.App{
		Name:     "Amortiza",
		HelpName: "amortiza-oracle",
		Usage:    "Decryption oracle: resolves pending schedule decryptions with committee signatures",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "JSON config file"},
			&cli.StringFlag{Name: "committee", Usage: "committee file holding the member keys this oracle signs with"},
			&cli.StringFlag{Name: "server", Usage: "ledger server base URL"},
			&cli.StringFlag{Name: "token", Usage: "bearer token with the oracle role"},
			&cli.DurationFlag{Name: "interval", Usage: "poll interval"},
			&cli.BoolFlag{Name: "once", Usage: "poll once and exit"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		stdlog.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.GetOracleConfig(c.String("config"))
	if err != nil {
		return err
	}
	o := cfg.Oracle
	if v := c.String("committee"); v != "" {
		o.CommitteeFile = v
	}
	if v := c.String("server"); v != "" {
		o.ServerURL = v
	}
	if v := c.String("token"); v != "" {
		o.Token = v
	}
	if v := c.Duration("interval"); v > 0 {
		o.PollInterval = v
	}
	if o.CommitteeFile == "" {
		return errors.New("a committee file is required")
	}

	log := logger.NewLoggerWithLevel("oracle", cfg.LogLevel)

	rt, err := key.Runtime(cfg.Engine, false)
	if err != nil {
		return errors.Wrap(err, "runtime")
	}
	cf, err := key.ReadCommitteeFile(o.CommitteeFile)
	if err != nil {
		return err
	}
	committee, err := cf.Committee(o.Threshold)
	if err != nil {
		return err
	}
	held, err := cf.HeldKeys()
	if err != nil {
		return err
	}
	signer, err := oracle.NewSigner(committee, held)
	if err != nil {
		return err
	}
	log.Info().Int("members", signer.Members()).Int("threshold", committee.Threshold()).Str("server", o.ServerURL).Msg("oracle starting")

	src := clientlib.New(o.ServerURL, o.Token, cfg.Server.RequestTimeout)
	relayer := oracle.NewRelayer(src, oracle.NewFulfiller(rt, signer), o.PollInterval, log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("once") {
		pollCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		n, err := relayer.Poll(pollCtx)
		if err != nil {
			return err
		}
		log.Info().Int("resolved", n).Msg("done")
		return nil
	}

	if err := relayer.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
