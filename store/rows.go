package store

import "time"

// GeoCacheRow is the relational mirror of one cached resolution.
type GeoCacheRow struct {
	Callsign      string    `json:"callsign"`
	LocatorSource string    `json:"locator_source"`
	Locator       string    `json:"locator"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	Country       string    `json:"country"`
	Continent     string    `json:"continent"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IssueRow is one recorded pipeline failure.
type IssueRow struct {
	ID       int64     `json:"id"`
	Line     string    `json:"line"`
	Cluster  string    `json:"cluster"`
	Reason   string    `json:"reason"`
	DateTime time.Time `json:"date_time"`
}
