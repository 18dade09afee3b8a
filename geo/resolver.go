package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"holycluster/spot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoLocator signals that neither QRZ nor the prefix table produced a
// locator. The spot is still persisted, with empty geo, but never broadcast.
var ErrNoLocator = errors.New("geo: no locator for callsign")

// Cache is the key-value store slice the resolver needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// LocatorLookup asks the external callsign service for a user-supplied grid.
// An empty locator with a nil error means "service answered, no grid".
type LocatorLookup interface {
	Locator(ctx context.Context, callsign string) (string, error)
}

// CountryFallback supplies country/continent when the prefix table misses.
type CountryFallback interface {
	CountryContinent(callsign string) (string, string, bool)
}

// Store mirrors fresh resolutions into the relational geo_cache table so the
// read-only HTTP surface and the retention sweeper see them. Best-effort.
type Store interface {
	UpsertGeoCache(ctx context.Context, callsign string, g spot.GeoSide) error
}

// Resolver is the cache-through callsign resolver.
type Resolver struct {
	cache    Cache
	qrz      LocatorLookup
	prefixes *PrefixTable
	cty      CountryFallback // optional
	store    Store           // optional
	ttl      time.Duration
	log      zerolog.Logger
}

func NewResolver(cache Cache, qrz LocatorLookup, prefixes *PrefixTable, ttl time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		cache:    cache,
		qrz:      qrz,
		prefixes: prefixes,
		ttl:      ttl,
		log:      log.With().Str("component", "geo").Logger(),
	}
}

// WithCountryFallback wires the optional CTY database.
func (r *Resolver) WithCountryFallback(f CountryFallback) *Resolver {
	r.cty = f
	return r
}

// WithStore wires the optional relational mirror.
func (r *Resolver) WithStore(s Store) *Resolver {
	r.store = s
	return r
}

// Resolve returns the geographic record for an uppercased callsign and
// whether it came from the cache. Concurrent calls for the same callsign may
// both populate the cache; the write is idempotent.
func (r *Resolver) Resolve(ctx context.Context, callsign string) (spot.GeoSide, bool, error) {
	callsign = strings.ToUpper(callsign)

	if raw, ok, err := r.cache.Get(ctx, callsign); err != nil {
		r.log.Warn().Err(err).Str("callsign", callsign).Msg("geo cache read failed")
	} else if ok {
		var g spot.GeoSide
		if err := json.UnmarshalFromString(raw, &g); err == nil {
			return g, true, nil
		}
		r.log.Warn().Str("callsign", callsign).Msg("discarding unparsable geo cache entry")
	}

	g := spot.GeoSide{}
	locator, err := r.qrz.Locator(ctx, callsign)
	if err != nil {
		r.log.Debug().Err(err).Str("callsign", callsign).Msg("qrz lookup failed, falling back to prefix list")
	}
	if locator != "" {
		g.LocatorSource = "qrz"
		g.Locator = locator
	} else if loc := r.prefixes.Locator(callsign); loc != "" {
		g.LocatorSource = "prefixes"
		g.Locator = loc
	} else {
		return spot.GeoSide{}, false, fmt.Errorf("%w: %s", ErrNoLocator, callsign)
	}

	g.Country, g.Continent = r.prefixes.CountryContinent(callsign)
	if g.Country == "" && r.cty != nil {
		if country, continent, ok := r.cty.CountryContinent(callsign); ok {
			g.Country, g.Continent = country, continent
		}
	}

	lat, lon, err := LocatorToCoordinates(g.Locator)
	if err != nil {
		return spot.GeoSide{}, false, fmt.Errorf("geo: %s: %w", callsign, err)
	}
	g.Lat, g.Lon = lat, lon

	if raw, err := json.MarshalToString(g); err == nil {
		if err := r.cache.SetTTL(ctx, callsign, raw, r.ttl); err != nil {
			r.log.Warn().Err(err).Str("callsign", callsign).Msg("geo cache write failed")
		}
	}
	if r.store != nil {
		if err := r.store.UpsertGeoCache(ctx, callsign, g); err != nil {
			r.log.Warn().Err(err).Str("callsign", callsign).Msg("geo_cache upsert failed")
		}
	}
	return g, false, nil
}
