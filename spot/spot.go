// Package spot defines the spot records flowing through the pipeline and
// their flat string-map encodings used at the stream broker boundary.
package spot

import (
	"fmt"
	"strconv"
	"time"
)

// RawSpot is a parsed cluster announcement before enrichment.
type RawSpot struct {
	SpotterCallsign string
	DXCallsign      string
	Frequency       float64 // kHz
	Comment         string
	Time            string // HHMMZ as received
	DXLocator       string
	SpotterLocator  string
	Cluster         string // host:port of the source endpoint
}

// Validate reports whether the raw spot satisfies the minimal invariants.
func (s *RawSpot) Validate() error {
	if s.SpotterCallsign == "" {
		return fmt.Errorf("spot: empty spotter callsign")
	}
	if s.DXCallsign == "" {
		return fmt.Errorf("spot: empty dx callsign")
	}
	if s.Frequency < 0 {
		return fmt.Errorf("spot: negative frequency %f", s.Frequency)
	}
	return nil
}

// DedupKey builds the cross-source coincidence key: identical announcements
// arriving via different clusters collapse onto the same key.
func (s *RawSpot) DedupKey() string {
	return s.Time + ":" + s.DXCallsign + ":" + FormatFrequency(s.Frequency) + ":" + s.SpotterCallsign
}

// GeoSide holds the resolved geography for one side of a spot. The JSON tags
// are the cache record shape in the key-value store.
type GeoSide struct {
	LocatorSource string  `json:"locator_source"` // "qrz", "prefixes" or empty
	Locator       string  `json:"locator"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Country       string  `json:"country"`
	Continent     string  `json:"continent"`
}

// EnrichedSpot is a RawSpot extended with derived metadata. It is what gets
// persisted and, when complete, broadcast.
type EnrichedSpot struct {
	RawSpot
	Timestamp     int64 // unix seconds
	Band          string
	Mode          string
	ModeSelection string // "comment", "range" or empty
	Spotter       GeoSide
	DX            GeoSide
}

// Broadcastable reports whether the spot satisfies the fanout contract:
// band, mode and both locators must be non-empty.
func (s *EnrichedSpot) Broadcastable() bool {
	return s.Band != "" && s.Mode != "" && s.Spotter.Locator != "" && s.DX.Locator != ""
}

// FormatFrequency renders a kHz frequency the way cluster lines carry it,
// with one fractional digit. The dedup key depends on this being stable.
func FormatFrequency(khz float64) string {
	return strconv.FormatFloat(khz, 'f', 1, 64)
}

// Timestamp assembly: today's UTC date combined with the spot's HHMM,
// seconds taken from the wall clock. Around 00:00 UTC this can place a spot
// a day off; accepted, matching upstream behaviour.
func AssembleTimestamp(hhmm string, now time.Time) (int64, error) {
	if len(hhmm) < 4 {
		return 0, fmt.Errorf("spot: short time %q", hhmm)
	}
	hour, err := strconv.Atoi(hhmm[:2])
	if err != nil || hour > 23 {
		return 0, fmt.Errorf("spot: bad hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(hhmm[2:4])
	if err != nil || minute > 59 {
		return 0, fmt.Errorf("spot: bad minute in %q", hhmm)
	}
	now = now.UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, now.Second(), 0, time.UTC)
	return t.Unix(), nil
}

// ToMap flattens a RawSpot for XADD. All values are strings; the broker only
// carries flat string-keyed maps.
func (s *RawSpot) ToMap() map[string]any {
	return map[string]any{
		"spotter_callsign": s.SpotterCallsign,
		"dx_callsign":      s.DXCallsign,
		"frequency":        FormatFrequency(s.Frequency),
		"comment":          s.Comment,
		"time":             s.Time,
		"dx_locator":       s.DXLocator,
		"spotter_locator":  s.SpotterLocator,
		"cluster":          s.Cluster,
	}
}

// RawFromMap rebuilds a RawSpot from a stream message.
func RawFromMap(m map[string]string) (*RawSpot, error) {
	freq, err := strconv.ParseFloat(m["frequency"], 64)
	if err != nil {
		return nil, fmt.Errorf("spot: bad frequency %q: %w", m["frequency"], err)
	}
	s := &RawSpot{
		SpotterCallsign: m["spotter_callsign"],
		DXCallsign:      m["dx_callsign"],
		Frequency:       freq,
		Comment:         m["comment"],
		Time:            m["time"],
		DXLocator:       m["dx_locator"],
		SpotterLocator:  m["spotter_locator"],
		Cluster:         m["cluster"],
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func formatCoord(locator string, v float64) string {
	if locator == "" {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ToMap flattens an EnrichedSpot for the egress stream.
func (s *EnrichedSpot) ToMap() map[string]any {
	m := s.RawSpot.ToMap()
	m["timestamp"] = strconv.FormatInt(s.Timestamp, 10)
	m["band"] = s.Band
	m["mode"] = s.Mode
	m["mode_selection"] = s.ModeSelection
	m["spotter_locator_source"] = s.Spotter.LocatorSource
	m["spotter_locator"] = s.Spotter.Locator
	m["spotter_lat"] = formatCoord(s.Spotter.Locator, s.Spotter.Lat)
	m["spotter_lon"] = formatCoord(s.Spotter.Locator, s.Spotter.Lon)
	m["spotter_country"] = s.Spotter.Country
	m["spotter_continent"] = s.Spotter.Continent
	m["dx_locator_source"] = s.DX.LocatorSource
	m["dx_locator"] = s.DX.Locator
	m["dx_lat"] = formatCoord(s.DX.Locator, s.DX.Lat)
	m["dx_lon"] = formatCoord(s.DX.Locator, s.DX.Lon)
	m["dx_country"] = s.DX.Country
	m["dx_continent"] = s.DX.Continent
	return m
}

func parseCoord(v string) float64 {
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// EnrichedFromMap rebuilds an EnrichedSpot from an egress stream message.
func EnrichedFromMap(m map[string]string) (*EnrichedSpot, error) {
	raw, err := RawFromMap(m)
	if err != nil {
		return nil, err
	}
	ts, err := strconv.ParseInt(m["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("spot: bad timestamp %q: %w", m["timestamp"], err)
	}
	return &EnrichedSpot{
		RawSpot:       *raw,
		Timestamp:     ts,
		Band:          m["band"],
		Mode:          m["mode"],
		ModeSelection: m["mode_selection"],
		Spotter: GeoSide{
			LocatorSource: m["spotter_locator_source"],
			Locator:       m["spotter_locator"],
			Lat:           parseCoord(m["spotter_lat"]),
			Lon:           parseCoord(m["spotter_lon"]),
			Country:       m["spotter_country"],
			Continent:     m["spotter_continent"],
		},
		DX: GeoSide{
			LocatorSource: m["dx_locator_source"],
			Locator:       m["dx_locator"],
			Lat:           parseCoord(m["dx_lat"]),
			Lon:           parseCoord(m["dx_lon"]),
			Country:       m["dx_country"],
			Continent:     m["dx_continent"],
		},
	}, nil
}
