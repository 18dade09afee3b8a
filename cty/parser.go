// Package cty loads a CTY country-file plist and answers longest-prefix
// callsign lookups. It backs the geo resolver's country/continent fallback
// when the prefix CSV has no row for a callsign.
package cty

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"howett.net/plist"
)

// PrefixInfo describes the metadata stored for each CTY entry.
type PrefixInfo struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

// CTYDatabase holds the plist data and sorted keys for longest-prefix lookup.
type CTYDatabase struct {
	Data map[string]PrefixInfo
	Keys []string
}

// LoadCTYDatabase loads a cty.plist file into a lookup database.
func LoadCTYDatabase(path string) (*CTYDatabase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cty plist: %w", err)
	}
	defer f.Close()
	return LoadCTYDatabaseFromReader(f)
}

// LoadCTYDatabaseFromReader decodes CTY data from a seekable reader.
func LoadCTYDatabaseFromReader(r io.ReadSeeker) (*CTYDatabase, error) {
	var raw map[string]PrefixInfo
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode cty plist: %w", err)
	}
	data := make(map[string]PrefixInfo, len(raw))
	for k, v := range raw {
		data[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	// Longest keys first so prefix scans find the most specific entry.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) == len(keys[j]) {
			return keys[i] < keys[j]
		}
		return len(keys[i]) > len(keys[j])
	})
	return &CTYDatabase{Data: data, Keys: keys}, nil
}

var suffixes = []string{"/QRP", "/P", "/M", "/MM", "/AM"}

func normalizeCallsign(cs string) string {
	cs = strings.ToUpper(strings.TrimSpace(cs))
	for _, suf := range suffixes {
		if strings.HasSuffix(cs, suf) {
			return strings.TrimSuffix(cs, suf)
		}
	}
	return cs
}

// LookupCallsign returns metadata for the callsign or false if unknown.
func (db *CTYDatabase) LookupCallsign(cs string) (*PrefixInfo, bool) {
	cs = normalizeCallsign(cs)
	if info, ok := db.Data[cs]; ok {
		return &info, true
	}
	for _, key := range db.Keys {
		if len(key) > len(cs) {
			continue
		}
		if strings.HasPrefix(cs, key) {
			info := db.Data[key]
			return &info, true
		}
	}
	return nil, false
}

// CountryContinent implements the geo resolver's fallback interface.
func (db *CTYDatabase) CountryContinent(cs string) (string, string, bool) {
	info, ok := db.LookupCallsign(cs)
	if !ok {
		return "", "", false
	}
	return info.Country, info.Continent, true
}
