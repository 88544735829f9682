// Package server exposes the ledger over HTTP. Every response is a JSON
// envelope whose status field is "OK" or "failed".
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/logger"
)

const DefaultVersion = "indev"

type Options struct {
	Ledger  *loan.Ledger
	Storage Storage
	Tokens  *auth.Issuer
	Version string
	Log     *logger.Logger
	// RequestTimeout bounds the context of every request; zero disables it.
	RequestTimeout time.Duration
}

type Server struct {
	ledger  *loan.Ledger
	engine  *fhe.Engine
	storage Storage
	tokens  *auth.Issuer
	version string
	timeout time.Duration
	log     *logger.Logger
}

func New(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	opts.Log.Info().Str("version", opts.Version).Msg("http handler created")
	return &Server{
		ledger:  opts.Ledger,
		engine:  opts.Ledger.Engine(),
		storage: opts.Storage,
		tokens:  opts.Tokens,
		version: opts.Version,
		timeout: opts.RequestTimeout,
		log:     opts.Log,
	}
}

// Routes returns the router serving the whole API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log.Logger))
	r.Use(s.withLogging)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}
	r.NotFound(s.HandleNotFound)
	r.MethodNotAllowed(s.HandleMethodNotAllowed)

	r.Get("/version", s.HandlerVersion)
	r.Get("/keys/public", s.HandlerPublicKey)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Post("/ciphertext/import", s.HandlerImportCiphertext)
		r.Post("/ciphertext/encrypt", s.HandlerEncrypt)
		r.Delete("/ciphertext/{handle}", s.HandlerDiscard)

		r.With(requireRole(loan.RoleBorrower)).Post("/loan/submit", s.HandlerSubmitLoan)
		r.Route("/loan/{id}", func(r chi.Router) {
			r.Get("/", s.HandlerLoan)
			r.Post("/calculate", s.HandlerCalculate)
			r.Post("/decrypt", s.HandlerRequestDecryption)
			r.Get("/schedule", s.HandlerSchedule)
			r.Post("/analytics/{name}", s.HandlerAnalytics)
		})
		r.Get("/borrower/{address}/loans", s.HandlerBorrowerLoans)
		r.Get("/events", s.HandlerEvents)

		r.Route("/oracle", func(r chi.Router) {
			r.Use(requireRole(loan.RoleOracle))
			r.Get("/pending", s.HandlerPending)
			r.Post("/resolve", s.HandlerResolve)
		})

		r.Get("/storage/schedules", s.HandlerStorageSchedules)
		r.Get("/storage/{key}", s.HandlerStorageGet)
		r.Put("/storage/{key}", s.HandlerStoragePut)
		r.Delete("/storage/{key}", s.HandlerStorageDelete)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("address", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.FromRequest(r).Info().
			Str("uri", r.RequestURI).
			Str("method", r.Method).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Int("size", ww.BytesWritten()).
			Send()
	})
}
