package reaper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-device-sessions/internal/metrics"
	"github.com/jrsteele09/go-device-sessions/sessions"
)

const DefaultThreshold = 24 * time.Hour

// Reaper removes sessions that have been inactive for longer than a threshold.
// Each account is reaped under the same per-account lock the lifecycle operations use.
type Reaper struct {
	store   *sessions.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Reaper)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Reaper) {
		r.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

func New(store *sessions.Store, options ...Option) *Reaper {
	r := &Reaper{
		store: store,
		log:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Sweep removes, across all accounts, the sessions whose last activity is older than
// threshold and returns how many were removed. An account that fails is logged and
// skipped; the first such failure is returned alongside the count.
func (r *Reaper) Sweep(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	started := time.Now()
	cutoff := r.store.Now().Add(-threshold)

	ids, err := r.store.AccountIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "[Sweep] list accounts")
	}

	var (
		removed  int
		failed   int
		firstErr error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		n, err := r.store.RemoveInactive(ctx, id, cutoff)
		if errors.Is(err, sessions.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "[Sweep] account %s", id)
			}
			r.log.Warn().Err(err).Str("account_id", id).Msg("reap account failed")
			continue
		}
		removed += n
	}

	r.metrics.Reaped(removed)
	r.metrics.SweepObserved(time.Since(started).Seconds(), failed)
	r.log.Debug().
		Int("accounts", len(ids)).
		Int("removed", removed).
		Int("failed", failed).
		Dur("threshold", threshold).
		Msg("stale session sweep finished")

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	return removed, firstErr
}
