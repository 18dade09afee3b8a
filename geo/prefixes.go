package geo

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// prefixRow is one entry of the fallback table: a callsign regex anchored at
// the start, with the locator/country/continent it implies.
type prefixRow struct {
	re        *regexp.Regexp
	locator   string
	country   string
	continent string
}

// PrefixTable is the static callsign-prefix fallback resolver. Immutable
// after load; safe for concurrent use.
type PrefixTable struct {
	rows []prefixRow
}

// LoadPrefixTable reads the prefix CSV: rows of
// callsign_regex,locator,country,continent with no header.
func LoadPrefixTable(path string) (*PrefixTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open prefixes: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("geo: parse prefixes: %w", err)
	}

	t := &PrefixTable{rows: make([]prefixRow, 0, len(records))}
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		re, err := regexp.Compile("^(?:" + rec[0] + ")")
		if err != nil {
			return nil, fmt.Errorf("geo: bad prefix regex %q: %w", rec[0], err)
		}
		t.rows = append(t.rows, prefixRow{
			re:        re,
			locator:   strings.TrimSpace(rec[1]),
			country:   strings.TrimSpace(rec[2]),
			continent: strings.TrimSpace(rec[3]),
		})
	}
	return t, nil
}

// Locator returns the locator of the first matching row, or "".
func (t *PrefixTable) Locator(callsign string) string {
	callsign = strings.ToUpper(callsign)
	for _, row := range t.rows {
		if row.re.MatchString(callsign) {
			return row.locator
		}
	}
	return ""
}

// CountryContinent returns the country and continent of the first matching
// row; both empty on miss.
func (t *PrefixTable) CountryContinent(callsign string) (string, string) {
	callsign = strings.ToUpper(callsign)
	for _, row := range t.rows {
		if row.re.MatchString(callsign) {
			return row.country, row.continent
		}
	}
	return "", ""
}
