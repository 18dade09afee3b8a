// Package stats keeps lightweight pipeline counters and logs a periodic
// summary line.
package stats

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Tracker counts spots per mode and per cluster feed. Counters live in a
// sync.Map of atomics so per-spot increments don't fight over a mutex.
type Tracker struct {
	modeCounts    sync.Map // string -> *atomic.Uint64
	clusterCounts sync.Map // string -> *atomic.Uint64
	broadcast     atomic.Uint64
	start         atomic.Int64
}

func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

func (t *Tracker) NoteSpot(cluster, mode string) {
	incrementCounter(&t.clusterCounts, cluster)
	incrementCounter(&t.modeCounts, mode)
}

func (t *Tracker) NoteBroadcast() {
	t.broadcast.Add(1)
}

func (t *Tracker) ModeCounts() map[string]uint64 {
	return snapshot(&t.modeCounts)
}

func (t *Tracker) ClusterCounts() map[string]uint64 {
	return snapshot(&t.clusterCounts)
}

// Total sums the per-cluster counts.
func (t *Tracker) Total() uint64 {
	var total uint64
	t.clusterCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

func snapshot(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}

func formatCounts(counts map[string]uint64) string {
	if len(counts) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+humanize.Comma(int64(counts[k])))
	}
	return strings.Join(parts, ", ")
}

// Reporter logs the tracker's summary on an interval, as a supervised
// service.
type Reporter struct {
	tracker  *Tracker
	interval time.Duration
	log      zerolog.Logger
}

func NewReporter(t *Tracker, interval time.Duration, log zerolog.Logger) *Reporter {
	return &Reporter{tracker: t, interval: interval, log: log.With().Str("component", "stats").Logger()}
}

func (r *Reporter) report() {
	r.log.Info().
		Str("uptime", r.tracker.Uptime().Round(time.Second).String()).
		Str("total", humanize.Comma(int64(r.tracker.Total()))).
		Str("by_cluster", formatCounts(r.tracker.ClusterCounts())).
		Str("by_mode", formatCounts(r.tracker.ModeCounts())).
		Str("broadcast", humanize.Comma(int64(r.tracker.broadcast.Load()))).
		Msg("spot statistics")
}

func (r *Reporter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.report()
		}
	}
}
