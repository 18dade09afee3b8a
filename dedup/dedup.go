// Package dedup suppresses repeated spots inside a short Valkey-backed
// window. The first writer of a key wins; everyone else is a duplicate.
package dedup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"holycluster/spot"
)

// Claimer is the single Valkey operation dedup needs: an atomic
// set-if-absent with a TTL.
type Claimer interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Deduper struct {
	kv  Claimer
	ttl time.Duration
	log zerolog.Logger
}

func NewDeduper(kv Claimer, ttl time.Duration, log zerolog.Logger) *Deduper {
	return &Deduper{kv: kv, ttl: ttl, log: log.With().Str("component", "dedup").Logger()}
}

// IsDuplicate claims the spot's dedup key and reports whether another
// instance got there first. When Valkey is unreachable the spot passes
// through; a duplicate shown twice beats a spot never shown.
func (d *Deduper) IsDuplicate(ctx context.Context, s *spot.RawSpot) bool {
	first, err := d.kv.SetNX(ctx, s.DedupKey(), d.ttl)
	if err != nil {
		d.log.Error().Err(err).Str("key", s.DedupKey()).Msg("dedup check failed, passing spot through")
		return false
	}
	return !first
}
