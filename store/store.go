// Package store is the PostgreSQL layer: the spot history, the issue
// sidetable, and the relational mirror of the geo cache.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"holycluster/config"
	"holycluster/spot"
)

const schema = `
create table if not exists holy_spots (
	id bigserial primary key,
	time text not null,
	timestamp bigint not null,
	spotter_callsign text not null,
	spotter_locator_source text,
	spotter_locator text,
	spotter_lat double precision,
	spotter_lon double precision,
	spotter_country text,
	spotter_continent text,
	dx_callsign text not null,
	dx_locator_source text,
	dx_locator text,
	dx_lat double precision,
	dx_lon double precision,
	dx_country text,
	dx_continent text,
	frequency double precision not null,
	band text,
	mode text,
	mode_selection text,
	comment text,
	cluster text,
	date_time timestamptz not null default now(),
	unique (time, spotter_callsign, dx_callsign)
);
create index if not exists idx_holy_spots_timestamp on holy_spots(timestamp);
create index if not exists idx_holy_spots_date_time on holy_spots(date_time);

create table if not exists spots_with_issues (
	id bigserial primary key,
	line text not null,
	cluster text,
	reason text,
	date_time timestamptz not null default now()
);

create table if not exists geo_cache (
	callsign text primary key,
	locator_source text,
	locator text,
	lat double precision,
	lon double precision,
	country text,
	continent text,
	updated_at timestamptz not null default now()
);
`

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects a pool, pings it, and makes sure the schema exists.
func New(ctx context.Context, cfg config.PostgresConfig, log zerolog.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	pcfg.MinConns = int32(cfg.MinConns)
	pcfg.MaxConns = int32(cfg.MaxConns)
	pcfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{pool: pool, log: log.With().Str("component", "store").Logger()}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertSpot persists an enriched spot. A second arrival of the same
// (time, spotter, dx) triple is ignored, which makes the insert idempotent
// across replays of the ingress stream.
func (s *Store) InsertSpot(ctx context.Context, e *spot.EnrichedSpot) error {
	_, err := s.pool.Exec(ctx, `
		insert into holy_spots (
			time, timestamp, spotter_callsign,
			spotter_locator_source, spotter_locator, spotter_lat, spotter_lon,
			spotter_country, spotter_continent,
			dx_callsign, dx_locator_source, dx_locator, dx_lat, dx_lon,
			dx_country, dx_continent,
			frequency, band, mode, mode_selection, comment, cluster
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		on conflict (time, spotter_callsign, dx_callsign) do nothing`,
		e.Time, e.Timestamp, e.SpotterCallsign,
		e.Spotter.LocatorSource, e.Spotter.Locator, e.Spotter.Lat, e.Spotter.Lon,
		e.Spotter.Country, e.Spotter.Continent,
		e.DXCallsign, e.DX.LocatorSource, e.DX.Locator, e.DX.Lat, e.DX.Lon,
		e.DX.Country, e.DX.Continent,
		e.Frequency, e.Band, e.Mode, e.ModeSelection, e.Comment, e.Cluster,
	)
	if err != nil {
		return fmt.Errorf("store: insert spot: %w", err)
	}
	return nil
}

// InsertIssue records a raw line that failed somewhere in the pipeline.
func (s *Store) InsertIssue(ctx context.Context, line, cluster, reason string) error {
	_, err := s.pool.Exec(ctx,
		`insert into spots_with_issues (line, cluster, reason) values ($1,$2,$3)`,
		line, cluster, reason)
	if err != nil {
		return fmt.Errorf("store: insert issue: %w", err)
	}
	return nil
}

func scanSpots(rows pgx.Rows) ([]*spot.EnrichedSpot, error) {
	defer rows.Close()
	var out []*spot.EnrichedSpot
	for rows.Next() {
		var (
			e       spot.EnrichedSpot
			sSrc    pgtype.Text
			sLoc    pgtype.Text
			dSrc    pgtype.Text
			dLoc    pgtype.Text
			band    pgtype.Text
			mode    pgtype.Text
			modeSel pgtype.Text
			comment pgtype.Text
			cluster pgtype.Text
			sCtry   pgtype.Text
			sCont   pgtype.Text
			dCtry   pgtype.Text
			dCont   pgtype.Text
		)
		if err := rows.Scan(
			&e.Time, &e.Timestamp, &e.SpotterCallsign,
			&sSrc, &sLoc, &e.Spotter.Lat, &e.Spotter.Lon,
			&sCtry, &sCont,
			&e.DXCallsign, &dSrc, &dLoc, &e.DX.Lat, &e.DX.Lon, &dCtry, &dCont,
			&e.Frequency, &band, &mode, &modeSel, &comment, &cluster,
		); err != nil {
			return nil, fmt.Errorf("store: scan spot: %w", err)
		}
		e.Spotter.LocatorSource = sSrc.String
		e.Spotter.Locator = sLoc.String
		e.Spotter.Country = sCtry.String
		e.Spotter.Continent = sCont.String
		e.DX.LocatorSource = dSrc.String
		e.DX.Locator = dLoc.String
		e.DX.Country = dCtry.String
		e.DX.Continent = dCont.String
		e.Band = band.String
		e.Mode = mode.String
		e.ModeSelection = modeSel.String
		e.Comment = comment.String
		e.Cluster = cluster.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate spots: %w", err)
	}
	return out, nil
}

const spotColumns = `
	time, timestamp, spotter_callsign,
	spotter_locator_source, spotter_locator, spotter_lat, spotter_lon,
	spotter_country, spotter_continent,
	dx_callsign, dx_locator_source, dx_locator, dx_lat, dx_lon,
	dx_country, dx_continent,
	frequency, band, mode, mode_selection, comment, cluster`

// SpotsSince returns broadcastable spots newer than the unix timestamp,
// capped at limit. The limit keeps the newest rows; when the window holds
// more spots than the cap, the oldest are the ones cut. Results come back
// oldest-first.
func (s *Store) SpotsSince(ctx context.Context, since int64, limit int) ([]*spot.EnrichedSpot, error) {
	rows, err := s.pool.Query(ctx, `
		select `+spotColumns+`
		from holy_spots
		where timestamp > $1
		  and band is not null and band <> ''
		  and mode is not null and mode <> ''
		  and spotter_locator is not null and spotter_locator <> ''
		  and dx_locator is not null and dx_locator <> ''
		order by id desc
		limit $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query spots: %w", err)
	}
	spots, err := scanSpots(rows)
	if err != nil {
		return nil, err
	}
	chronological(spots)
	return spots, nil
}

// chronological flips a newest-first result into delivery order.
func chronological(spots []*spot.EnrichedSpot) {
	for i, j := 0, len(spots)-1; i < j; i, j = i+1, j-1 {
		spots[i], spots[j] = spots[j], spots[i]
	}
}

// GeoCacheEntry returns one relational geo-cache row.
func (s *Store) GeoCacheEntry(ctx context.Context, callsign string) (*GeoCacheRow, error) {
	row := s.pool.QueryRow(ctx, `
		select callsign, locator_source, locator, lat, lon, country, continent, updated_at
		from geo_cache where callsign = $1`, callsign)
	var r GeoCacheRow
	err := row.Scan(&r.Callsign, &r.LocatorSource, &r.Locator, &r.Lat, &r.Lon, &r.Country, &r.Continent, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: geo cache entry: %w", err)
	}
	return &r, nil
}

// GeoCacheAll lists the relational geo cache, most recently refreshed first.
func (s *Store) GeoCacheAll(ctx context.Context, limit int) ([]GeoCacheRow, error) {
	rows, err := s.pool.Query(ctx, `
		select callsign, locator_source, locator, lat, lon, country, continent, updated_at
		from geo_cache order by updated_at desc limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: geo cache all: %w", err)
	}
	defer rows.Close()
	var out []GeoCacheRow
	for rows.Next() {
		var r GeoCacheRow
		if err := rows.Scan(&r.Callsign, &r.LocatorSource, &r.Locator, &r.Lat, &r.Lon, &r.Country, &r.Continent, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan geo cache: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertGeoCache mirrors a fresh resolution into Postgres.
func (s *Store) UpsertGeoCache(ctx context.Context, callsign string, g spot.GeoSide) error {
	_, err := s.pool.Exec(ctx, `
		insert into geo_cache (callsign, locator_source, locator, lat, lon, country, continent, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,now())
		on conflict (callsign) do update set
			locator_source = excluded.locator_source,
			locator = excluded.locator,
			lat = excluded.lat,
			lon = excluded.lon,
			country = excluded.country,
			continent = excluded.continent,
			updated_at = now()`,
		callsign, g.LocatorSource, g.Locator, g.Lat, g.Lon, g.Country, g.Continent)
	if err != nil {
		return fmt.Errorf("store: upsert geo cache: %w", err)
	}
	return nil
}

// Issues lists the most recent problem lines.
func (s *Store) Issues(ctx context.Context, limit int) ([]IssueRow, error) {
	rows, err := s.pool.Query(ctx, `
		select id, line, cluster, reason, date_time
		from spots_with_issues order by id desc limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: issues: %w", err)
	}
	defer rows.Close()
	var out []IssueRow
	for rows.Next() {
		var r IssueRow
		if err := rows.Scan(&r.ID, &r.Line, &r.Cluster, &r.Reason, &r.DateTime); err != nil {
			return nil, fmt.Errorf("store: scan issue: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteOlderThan drops history and geo-cache rows whose insertion time
// predates cutoff. Returns the number of spot rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `delete from holy_spots where date_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: retention delete: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `delete from geo_cache where updated_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("store: geo cache retention: %w", err)
	}
	return tag.RowsAffected(), nil
}
