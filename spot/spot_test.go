package spot

import (
	"testing"
	"time"
)

func TestAssembleTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 24, 15, 0, 42, 0, time.UTC)
	ts, err := AssembleTimestamp("1455Z", now)
	if err != nil {
		t.Fatalf("AssembleTimestamp: %v", err)
	}
	want := time.Date(2026, 8, 24, 14, 55, 42, 0, time.UTC).Unix()
	if ts != want {
		t.Fatalf("got %d, want %d", ts, want)
	}
}

func TestAssembleTimestampRejectsBadInput(t *testing.T) {
	now := time.Now()
	for _, in := range []string{"", "12", "2560Z", "1299Z", "ab34"} {
		if _, err := AssembleTimestamp(in, now); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDedupKey(t *testing.T) {
	s := &RawSpot{
		SpotterCallsign: "K3LR",
		DXCallsign:      "SV1ABC",
		Frequency:       14074.0,
		Time:            "1234Z",
	}
	want := "1234Z:SV1ABC:14074.0:K3LR"
	if got := s.DedupKey(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBroadcastable(t *testing.T) {
	e := &EnrichedSpot{
		Band:    "20",
		Mode:    "FT8",
		Spotter: GeoSide{Locator: "FN00"},
		DX:      GeoSide{Locator: "KM17"},
	}
	if !e.Broadcastable() {
		t.Fatal("complete spot should be broadcastable")
	}
	for _, mutate := range []func(*EnrichedSpot){
		func(e *EnrichedSpot) { e.Band = "" },
		func(e *EnrichedSpot) { e.Mode = "" },
		func(e *EnrichedSpot) { e.Spotter.Locator = "" },
		func(e *EnrichedSpot) { e.DX.Locator = "" },
	} {
		c := *e
		mutate(&c)
		if c.Broadcastable() {
			t.Fatal("incomplete spot should not be broadcastable")
		}
	}
}

func TestEnrichedRoundTrip(t *testing.T) {
	e := &EnrichedSpot{
		RawSpot: RawSpot{
			SpotterCallsign: "K3LR",
			DXCallsign:      "SV1ABC",
			Frequency:       14074.0,
			Comment:         "FT8 -12 dB",
			Time:            "1234Z",
			Cluster:         "dxc.example.com:7373",
		},
		Timestamp:     1756047282,
		Band:          "20",
		Mode:          "FT8",
		ModeSelection: "comment",
		Spotter:       GeoSide{LocatorSource: "qrz", Locator: "FN00", Lat: 40.0, Lon: -79.0, Country: "United States", Continent: "NA"},
		DX:            GeoSide{LocatorSource: "prefixes", Locator: "KM17", Lat: 37.5, Lon: 23.0, Country: "Greece", Continent: "EU"},
	}
	m := e.ToMap()
	sm := make(map[string]string, len(m))
	for k, v := range m {
		sm[k] = v.(string)
	}
	got, err := EnrichedFromMap(sm)
	if err != nil {
		t.Fatalf("EnrichedFromMap: %v", err)
	}
	if *got != *e {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, e)
	}
}
