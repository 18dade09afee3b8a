// Package archive keeps an optional local SQLite copy of enriched spots.
// The hot path never blocks on it: writes queue through a channel and a full
// queue drops the archive copy, not the spot.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"holycluster/config"
	"holycluster/spot"
)

const schema = `
create table if not exists spots (
	id integer primary key autoincrement,
	ts integer not null,
	spotter text not null,
	dx text not null,
	freq real not null,
	band text,
	mode text,
	mode_selection text,
	comment text,
	spotter_locator text,
	dx_locator text,
	cluster text
);
create index if not exists idx_spots_ts on spots(ts);
create index if not exists idx_spots_dx_ts on spots(dx, ts);
`

type Writer struct {
	cfg   config.ArchiveConfig
	db    *sql.DB
	queue chan *spot.EnrichedSpot
	log   zerolog.Logger
}

// NewWriter opens (or creates) the archive database.
func NewWriter(cfg config.ArchiveConfig, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(
		"pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=%d", cfg.BusyTimeoutMS)); err != nil {
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("archive: schema: %w", err)
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 10000
	}
	return &Writer{
		cfg:   cfg,
		db:    db,
		queue: make(chan *spot.EnrichedSpot, qsize),
		log:   log.With().Str("component", "archive").Logger(),
	}, nil
}

// Enqueue hands a spot to the writer without blocking.
func (w *Writer) Enqueue(e *spot.EnrichedSpot) {
	if w == nil || e == nil {
		return
	}
	select {
	case w.queue <- e:
	default:
		// Queue full; the Postgres copy is the authoritative one anyway.
	}
}

// Serve batches queued spots into SQLite and enforces retention, until the
// context is cancelled.
func (w *Writer) Serve(ctx context.Context) error {
	defer w.db.Close()

	interval := time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	flushTicker := time.NewTicker(interval)
	defer flushTicker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	batch := make([]*spot.EnrichedSpot, 0, w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.flush(batch)
			return ctx.Err()
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-flushTicker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-cleanupTicker.C:
			w.cleanup()
		}
	}
}

func (w *Writer) flush(batch []*spot.EnrichedSpot) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		w.log.Error().Err(err).Msg("archive begin tx")
		return
	}
	stmt, err := tx.Prepare(`insert into spots
		(ts, spotter, dx, freq, band, mode, mode_selection, comment, spotter_locator, dx_locator, cluster)
		values (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		w.log.Error().Err(err).Msg("archive prepare")
		tx.Rollback()
		return
	}
	for _, e := range batch {
		if _, err := stmt.Exec(
			e.Timestamp, e.SpotterCallsign, e.DXCallsign, e.Frequency,
			e.Band, e.Mode, e.ModeSelection, e.Comment,
			e.Spotter.Locator, e.DX.Locator, e.Cluster,
		); err != nil {
			w.log.Error().Err(err).Msg("archive insert")
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		w.log.Error().Err(err).Msg("archive commit")
	}
}

func (w *Writer) cleanup() {
	days := w.cfg.RetentionDays
	if days <= 0 {
		days = 14
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Unix()
	if _, err := w.db.Exec(`delete from spots where ts < ?`, cutoff); err != nil {
		w.log.Error().Err(err).Msg("archive cleanup")
	}
}

// Recent returns the newest archived spots, most recent first.
func (w *Writer) Recent(limit int) ([]*spot.EnrichedSpot, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := w.db.Query(`select ts, spotter, dx, freq, band, mode, mode_selection, comment,
		spotter_locator, dx_locator, cluster
		from spots order by ts desc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	out := make([]*spot.EnrichedSpot, 0, limit)
	for rows.Next() {
		var e spot.EnrichedSpot
		if err := rows.Scan(&e.Timestamp, &e.SpotterCallsign, &e.DXCallsign, &e.Frequency,
			&e.Band, &e.Mode, &e.ModeSelection, &e.Comment,
			&e.Spotter.Locator, &e.DX.Locator, &e.Cluster); err != nil {
			return nil, fmt.Errorf("archive: scan recent: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate recent: %w", err)
	}
	return out, nil
}
