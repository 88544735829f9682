package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/logger"
)

const (
	DefaultInterval = 2 * time.Second
	// DefaultWorkers bounds the requests fulfilled at once.
	DefaultWorkers = 4
)

// Relayer polls a Source and resolves what it finds.
type Relayer struct {
	src      Source
	f        *Fulfiller
	interval time.Duration
	workers  int
	log      *logger.Logger

	mu     sync.Mutex
	failed map[uuid.UUID]struct{}
}

func NewRelayer(src Source, f *Fulfiller, interval time.Duration, log *logger.Logger) *Relayer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Relayer{
		src:      src,
		f:        f,
		interval: interval,
		workers:  DefaultWorkers,
		log:      log.WithField("component", "relayer"),
		failed:   make(map[uuid.UUID]struct{}),
	}
}

// Poll resolves every pending request once and returns how many the source
// accepted. Requests that failed permanently are skipped from then on;
// transient failures are retried on the next poll.
func (r *Relayer) Poll(ctx context.Context) (int, error) {
	reqs, err := r.src.Pending(ctx)
	if err != nil {
		return 0, err
	}

	var resolved atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, req := range reqs {
		if r.skipped(req.ID) {
			continue
		}
		g.Go(func() error {
			ok, err := r.relay(ctx, req)
			if ok {
				resolved.Add(1)
			}
			if err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Str("request", req.ID.String()).Msg("relay failed")
			}
			return ctx.Err()
		})
	}
	err = g.Wait()
	return int(resolved.Load()), err
}

func (r *Relayer) relay(ctx context.Context, req decryption.Request) (bool, error) {
	cleartexts, proof, err := r.f.Fulfil(ctx, req)
	if err != nil {
		if errors.Is(err, ErrPayloadMismatch) {
			r.skip(req.ID)
		}
		return false, err
	}

	err = r.src.Resolve(ctx, req.ID, cleartexts, proof)
	switch {
	case err == nil:
		r.log.Info().Str("request", req.ID.String()).Uint64("subject", req.Subject).Msg("resolved")
		return true, nil
	case errors.Is(err, decryption.ErrAlreadyRevealed):
		r.skip(req.ID)
		return false, nil
	case errors.Is(err, decryption.ErrInvalidProof), errors.Is(err, decryption.ErrUnknownRequest):
		r.skip(req.ID)
	}
	return false, err
}

// Run polls until ctx is done.
func (r *Relayer) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if n, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("poll failed")
		} else if n > 0 {
			r.log.Debug().Int("resolved", n).Msg("poll done")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Relayer) skip(id uuid.UUID) {
	r.mu.Lock()
	r.failed[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Relayer) skipped(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[id]
	return ok
}
