// Package enrich drives raw spots from the ingress stream through
// classification and geo resolution into Postgres and the egress stream.
package enrich

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"holycluster/freq"
	"holycluster/geo"
	"holycluster/metrics"
	"holycluster/spot"
	"holycluster/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Resolver yields the geography for one callsign.
type Resolver interface {
	Resolve(ctx context.Context, callsign string) (spot.GeoSide, bool, error)
}

// Classifier derives band and mode from frequency and comment.
type Classifier interface {
	Classify(freqKHz float64, comment string) (band, mode, selection string, err error)
}

// Persister is the slice of the Postgres store the enricher writes to.
type Persister interface {
	InsertSpot(ctx context.Context, e *spot.EnrichedSpot) error
	InsertIssue(ctx context.Context, line, cluster, reason string) error
}

// Publisher appends enriched spots to the egress stream.
type Publisher interface {
	Publish(ctx context.Context, values map[string]any) error
}

// Archiver receives every persisted spot, best-effort and non-blocking.
type Archiver interface {
	Enqueue(e *spot.EnrichedSpot)
}

type Enricher struct {
	classifier Classifier
	resolver   Resolver
	store      Persister
	pub        Publisher
	tracker    *stats.Tracker // optional
	archiver   Archiver       // optional
	log        zerolog.Logger
	now        func() time.Time
}

func New(c Classifier, r Resolver, p Persister, pub Publisher, log zerolog.Logger) *Enricher {
	return &Enricher{
		classifier: c,
		resolver:   r,
		store:      p,
		pub:        pub,
		log:        log.With().Str("component", "enrich").Logger(),
		now:        time.Now,
	}
}

// WithTracker wires the optional statistics tracker.
func (e *Enricher) WithTracker(t *stats.Tracker) *Enricher {
	e.tracker = t
	return e
}

// WithArchiver wires the optional local archive.
func (e *Enricher) WithArchiver(a Archiver) *Enricher {
	e.archiver = a
	return e
}

func stringValues(values map[string]any) map[string]string {
	m := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return m
}

// Handle processes one ingress entry. Errors are reported for logging only;
// the consumer acknowledges regardless, a bad spot is never redelivered.
func (e *Enricher) Handle(ctx context.Context, id string, values map[string]any) error {
	sm := stringValues(values)
	raw, err := spot.RawFromMap(sm)
	if err != nil {
		e.recordIssue(ctx, sm, "decode: "+err.Error())
		metrics.SpotsDropped.WithLabelValues("decode").Inc()
		return err
	}

	enriched, err := e.Enrich(ctx, raw)
	if errors.Is(err, freq.ErrNoBand) {
		metrics.SpotsDropped.WithLabelValues("no_band").Inc()
		e.log.Debug().Float64("freq", raw.Frequency).Str("dx", raw.DXCallsign).Msg("out-of-band spot dropped")
		return nil
	}
	if err != nil {
		e.recordIssue(ctx, sm, err.Error())
		metrics.SpotsDropped.WithLabelValues("enrich").Inc()
		return err
	}

	if err := e.store.InsertSpot(ctx, enriched); err != nil {
		metrics.SpotsDropped.WithLabelValues("persist").Inc()
		return err
	}
	metrics.SpotsEnriched.Inc()
	if e.tracker != nil {
		e.tracker.NoteSpot(enriched.Cluster, enriched.Mode)
	}
	if e.archiver != nil {
		e.archiver.Enqueue(enriched)
	}

	if !enriched.Broadcastable() {
		metrics.SpotsDropped.WithLabelValues("incomplete").Inc()
		return nil
	}
	if err := e.pub.Publish(ctx, enriched.ToMap()); err != nil {
		return err
	}
	return nil
}

// Enrich computes the derived fields for one raw spot. Geo failures leave
// the affected side empty; only timestamp and band problems are errors.
func (e *Enricher) Enrich(ctx context.Context, raw *spot.RawSpot) (*spot.EnrichedSpot, error) {
	ts, err := spot.AssembleTimestamp(raw.Time, e.now())
	if err != nil {
		return nil, err
	}

	band, mode, selection, err := e.classifier.Classify(raw.Frequency, raw.Comment)
	if err != nil {
		return nil, err
	}

	enriched := &spot.EnrichedSpot{
		RawSpot:       *raw,
		Timestamp:     ts,
		Band:          band,
		Mode:          mode,
		ModeSelection: selection,
	}
	enriched.Spotter = e.resolveSide(ctx, raw.SpotterCallsign)
	enriched.DX = e.resolveSide(ctx, raw.DXCallsign)
	return enriched, nil
}

func (e *Enricher) resolveSide(ctx context.Context, callsign string) spot.GeoSide {
	g, cached, err := e.resolver.Resolve(ctx, callsign)
	switch {
	case errors.Is(err, geo.ErrNoLocator):
		metrics.GeoCacheHits.WithLabelValues("miss").Inc()
		return g
	case err != nil:
		metrics.GeoCacheHits.WithLabelValues("error").Inc()
		e.log.Warn().Err(err).Str("callsign", callsign).Msg("geo resolution failed")
		return spot.GeoSide{}
	case cached:
		metrics.GeoCacheHits.WithLabelValues("cache").Inc()
	default:
		metrics.GeoCacheHits.WithLabelValues(g.LocatorSource).Inc()
	}
	return g
}

func (e *Enricher) recordIssue(ctx context.Context, sm map[string]string, reason string) {
	line, _ := json.MarshalToString(sm)
	if err := e.store.InsertIssue(ctx, line, sm["cluster"], reason); err != nil {
		e.log.Error().Err(err).Msg("recording spot issue failed")
	}
}
