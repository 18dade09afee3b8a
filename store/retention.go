package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const sweepInterval = 24 * time.Hour

// Deleter is the slice of the store the sweeper drives.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes history rows older than the retention window. Runs as a
// supervised service.
type Sweeper struct {
	store Deleter
	days  int
	log   zerolog.Logger
	now   func() time.Time
}

func NewSweeper(s Deleter, days int, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store: s,
		days:  days,
		log:   log.With().Str("component", "retention").Logger(),
		now:   time.Now,
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	cutoff := w.now().UTC().AddDate(0, 0, -w.days)
	n, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("retention sweep")
	}
}

func (w *Sweeper) Serve(ctx context.Context) error {
	w.sweep(ctx)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}
