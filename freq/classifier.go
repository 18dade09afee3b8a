// Package freq maps a spotted frequency (and an optional comment hint) to an
// amateur band and modulation mode.
package freq

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoBand signals a frequency outside every configured band. Spots hitting
// it are dropped.
var ErrNoBand = errors.New("freq: no band for frequency")

type bandRow struct {
	band  string
	start float64 // kHz, inclusive
	end   float64 // kHz, inclusive
}

type modeRange struct {
	mode  string
	start float64 // kHz, inclusive
	end   float64 // kHz, exclusive
}

// Classifier holds the immutable band plan loaded at startup.
type Classifier struct {
	bands []bandRow
	modes map[string][]modeRange
}

type yamlRange struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// Load reads the band table CSV (band,freq_start,freq_end with a header row)
// and the per-band mode sub-range YAML.
func Load(bandsPath, modesPath string) (*Classifier, error) {
	f, err := os.Open(bandsPath)
	if err != nil {
		return nil, fmt.Errorf("freq: open bands: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("freq: parse bands: %w", err)
	}

	c := &Classifier{modes: make(map[string][]modeRange)}
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue // header
		}
		start, err1 := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		end, err2 := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("freq: bad band row %v", row)
		}
		c.bands = append(c.bands, bandRow{band: strings.TrimSpace(row[0]), start: start, end: end})
	}

	data, err := os.ReadFile(modesPath)
	if err != nil {
		return nil, fmt.Errorf("freq: read modes: %w", err)
	}
	var raw map[string]map[string]yamlRange
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("freq: parse modes: %w", err)
	}
	for band, byMode := range raw {
		ranges := make([]modeRange, 0, len(byMode))
		for mode, rng := range byMode {
			ranges = append(ranges, modeRange{mode: mode, start: rng.Start, end: rng.End})
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
		c.modes[band] = ranges
	}
	return c, nil
}

// commentModes is the keyword precedence for mode hints in the spot comment.
var commentModes = []struct {
	keywords []string
	mode     string
}{
	{[]string{"CW"}, "CW"},
	{[]string{"FT8"}, "FT8"},
	{[]string{"FT4"}, "FT4"},
	{[]string{"RTTY"}, "RTTY"},
	{[]string{"DIGI", "VARAC"}, "DIGI"},
}

// Band returns the first band whose inclusive range contains the frequency,
// or "" when none does.
func (c *Classifier) Band(freqKHz float64) string {
	for _, b := range c.bands {
		if freqKHz >= b.start && freqKHz <= b.end {
			return b.band
		}
	}
	return ""
}

// Classify returns (band, mode, mode_selection). A frequency outside every
// band returns ErrNoBand; an in-band frequency with no mode hint and no
// containing sub-range returns an empty mode with a nil error.
func (c *Classifier) Classify(freqKHz float64, comment string) (string, string, string, error) {
	band := c.Band(freqKHz)
	if band == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrNoBand, strconv.FormatFloat(freqKHz, 'f', 1, 64))
	}

	upper := strings.ToUpper(comment)
	for _, cm := range commentModes {
		for _, kw := range cm.keywords {
			if strings.Contains(upper, kw) {
				return band, cm.mode, "comment", nil
			}
		}
	}

	for _, rng := range c.modes[band] {
		if freqKHz >= rng.start && freqKHz < rng.end {
			return band, rng.mode, "range", nil
		}
	}
	return band, "", "", nil
}
