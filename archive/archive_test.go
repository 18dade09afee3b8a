package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"holycluster/config"
	"holycluster/spot"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	cfg := config.ArchiveConfig{
		DBPath:          filepath.Join(t.TempDir(), "spots.db"),
		QueueSize:       100,
		BatchSize:       2,
		BatchIntervalMS: 10,
		BusyTimeoutMS:   1000,
		RetentionDays:   14,
	}
	w, err := NewWriter(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	return w
}

func archivedSpot(ts int64, dx string) *spot.EnrichedSpot {
	return &spot.EnrichedSpot{
		RawSpot: spot.RawSpot{
			SpotterCallsign: "4X1AA",
			DXCallsign:      dx,
			Frequency:       14074.0,
			Comment:         "tnx",
			Time:            "1234Z",
			Cluster:         "c",
		},
		Timestamp: ts,
		Band:      "20",
		Mode:      "FT8",
		Spotter:   spot.GeoSide{Locator: "KM72JB"},
		DX:        spot.GeoSide{Locator: "KM71"},
	}
}

func TestWriterRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Serve(ctx)
		close(done)
	}()

	base := time.Now().UTC().Unix()
	w.Enqueue(archivedSpot(base, "JY5MM"))
	w.Enqueue(archivedSpot(base+1, "OH2BH"))

	deadline := time.Now().Add(5 * time.Second)
	var got []*spot.EnrichedSpot
	for time.Now().Before(deadline) {
		var err error
		got, err = w.Recent(10)
		if err != nil {
			t.Fatalf("Recent error: %v", err)
		}
		if len(got) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 archived spots, got %d", len(got))
	}
	if got[0].DXCallsign != "OH2BH" {
		t.Fatalf("expected newest first, got %q", got[0].DXCallsign)
	}
	if got[0].Band != "20" || got[0].Spotter.Locator != "KM72JB" {
		t.Fatalf("fields lost: %+v", got[0])
	}

	cancel()
	<-done
}

func TestEnqueueNeverBlocks(t *testing.T) {
	w := newTestWriter(t)
	// No Serve running; fill the queue past capacity.
	for i := 0; i < 500; i++ {
		w.Enqueue(archivedSpot(int64(i), "JY5MM"))
	}
}
