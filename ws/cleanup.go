package ws

import (
	"fmt"
	"strconv"
	"strings"

	"holycluster/spot"
)

// CleanSpot shapes an enriched spot into the public JSON form:
// voice modes collapse to SSB, the band becomes a number unless it names a
// region (VHF/UHF/SHF), coordinates travel as [lon, lat], time as a float.
func CleanSpot(e *spot.EnrichedSpot) (map[string]any, error) {
	if e.Spotter.Locator == "" || e.DX.Locator == "" {
		return nil, fmt.Errorf("ws: spot %s missing locator", e.DXCallsign)
	}

	mode := strings.ToUpper(e.Mode)
	switch mode {
	case "SSB", "USB", "LSB":
		mode = "SSB"
	}

	var band any
	switch e.Band {
	case "VHF", "UHF", "SHF":
		band = e.Band
	default:
		n, err := strconv.Atoi(e.Band)
		if err != nil {
			return nil, fmt.Errorf("ws: non-numeric band %q", e.Band)
		}
		band = n
	}

	return map[string]any{
		"spotter_callsign":  e.SpotterCallsign,
		"spotter_locator":   e.Spotter.Locator,
		"spotter_loc":       []float64{e.Spotter.Lon, e.Spotter.Lat},
		"spotter_country":   e.Spotter.Country,
		"spotter_continent": e.Spotter.Continent,
		"dx_callsign":       e.DXCallsign,
		"dx_locator":        e.DX.Locator,
		"dx_loc":            []float64{e.DX.Lon, e.DX.Lat},
		"dx_country":        e.DX.Country,
		"dx_continent":      e.DX.Continent,
		"freq":              e.Frequency,
		"band":              band,
		"mode":              mode,
		"mode_selection":    e.ModeSelection,
		"time":              float64(e.Timestamp),
		"comment":           e.Comment,
	}, nil
}

// CleanBatch transforms a batch, silently dropping spots that fail.
func CleanBatch(spots []*spot.EnrichedSpot) []map[string]any {
	out := make([]map[string]any, 0, len(spots))
	for _, e := range spots {
		m, err := CleanSpot(e)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
