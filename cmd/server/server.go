package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/config"
	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/logger"
	"github.com/CamberLoid/Amortiza/internal/server"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = server.DefaultVersion

func main() {
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		stdlog.Fatal(err)
	}
	log := logger.NewLoggerWithLevel("server", cfg.LogLevel)
	log.Info().Str("version", Version).Msg("Amortiza ledger server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run(ctx context.Context, cfg *config.StructuredConfig, log *logger.Logger) error {
	if cfg.Auth.TokenSignKey == "" {
		return errors.New("AUTH_TOKEN_SIGN_KEY is required")
	}
	if cfg.Oracle.CommitteeFile == "" {
		return errors.New("ORACLE_COMMITTEE_FILE is required")
	}

	rt, err := key.Runtime(cfg.Engine, true)
	if err != nil {
		return errors.Wrap(err, "runtime")
	}
	if cfg.Engine.Runtime == config.RuntimeSealed {
		log.Warn().Msg("sealed runtime is for development only")
		if cfg.Engine.SealedKey == "" {
			log.Warn().Msg("no sealed key configured; the oracle cannot decrypt this server's ciphertexts")
		}
	}

	policy := fhe.DefaultPolicy()
	policy.Fresh = cfg.Engine.FreshBudget
	policy.Floor = cfg.Engine.Floor
	engine := fhe.NewEngine(fhe.NewStore(rt, policy), cfg.Engine.MaxExponent, log)

	cf, err := key.ReadCommitteeFile(cfg.Oracle.CommitteeFile)
	if err != nil {
		return err
	}
	committee, err := cf.Committee(cfg.Oracle.Threshold)
	if err != nil {
		return errors.Wrap(err, "committee")
	}
	log.Info().Int("members", committee.Size()).Int("threshold", committee.Threshold()).Msg("decryption committee loaded")

	conn, err := db.Open(ctx, cfg.Storage.DSN, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Migrate(); err != nil {
		return err
	}
	repo := db.NewRepository(conn.DB, log)

	ledger, err := loan.NewLedger(engine, committee, loan.Options{
		MaxTermMonths: cfg.Engine.MaxTermMonths,
		Records:       repo,
		Notifier: loan.NotifierFunc(func(e loan.Event) {
			log.Debug().Str("event", string(e.Kind)).Uint64("seq", e.Seq).Uint64("loan", e.LoanID).Msg("ledger event")
		}),
		Log: log,
	})
	if err != nil {
		return err
	}

	tokens, err := auth.NewIssuer(cfg.Auth.TokenIssuer, cfg.Auth.TokenSignKey, cfg.Auth.TokenDuration)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Ledger:         ledger,
		Storage:        repo,
		Tokens:         tokens,
		Version:        Version,
		Log:            log,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return srv.ListenAndServe(ctx, cfg.Server.HTTPAddress)
}
