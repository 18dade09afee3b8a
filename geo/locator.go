// Package geo resolves callsigns to geographic metadata: Maidenhead locator,
// coordinates, country and continent.
package geo

import (
	"fmt"
	"strings"
)

// LocatorToCoordinates decodes a 4- or 6-character Maidenhead locator to the
// latitude/longitude of the centre of its square.
func LocatorToCoordinates(locator string) (lat, lon float64, err error) {
	loc := strings.ToUpper(strings.TrimSpace(locator))
	if len(loc) != 4 && len(loc) != 6 {
		return 0, 0, fmt.Errorf("geo: bad locator length %q", locator)
	}
	if loc[0] < 'A' || loc[0] > 'R' || loc[1] < 'A' || loc[1] > 'R' {
		return 0, 0, fmt.Errorf("geo: bad field in locator %q", locator)
	}
	if loc[2] < '0' || loc[2] > '9' || loc[3] < '0' || loc[3] > '9' {
		return 0, 0, fmt.Errorf("geo: bad square in locator %q", locator)
	}

	lon = float64(loc[0]-'A')*20 - 180
	lat = float64(loc[1]-'A')*10 - 90
	lon += float64(loc[2]-'0') * 2
	lat += float64(loc[3] - '0')

	if len(loc) == 6 {
		if loc[4] < 'A' || loc[4] > 'X' || loc[5] < 'A' || loc[5] > 'X' {
			return 0, 0, fmt.Errorf("geo: bad subsquare in locator %q", locator)
		}
		lon += float64(loc[4]-'A') * 5.0 / 60.0
		lat += float64(loc[5]-'A') * 2.5 / 60.0
		lon += 2.5 / 60.0
		lat += 1.25 / 60.0
	} else {
		lon += 1
		lat += 0.5
	}
	return lat, lon, nil
}

// CoordinatesToLocator encodes coordinates as a 6-character locator.
func CoordinatesToLocator(lat, lon float64) (string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("geo: coordinates out of range (%f, %f)", lat, lon)
	}
	lon += 180
	lat += 90
	if lon >= 360 {
		lon = 360 - 1e-9
	}
	if lat >= 180 {
		lat = 180 - 1e-9
	}

	b := make([]byte, 6)
	b[0] = byte('A' + int(lon/20))
	b[1] = byte('A' + int(lat/10))
	lon -= float64(int(lon/20)) * 20
	lat -= float64(int(lat/10)) * 10
	b[2] = byte('0' + int(lon/2))
	b[3] = byte('0' + int(lat))
	lon -= float64(int(lon/2)) * 2
	lat -= float64(int(lat))
	b[4] = byte('A' + int(lon*12))
	b[5] = byte('A' + int(lat*24))
	return string(b), nil
}
