package cluster

import (
	"regexp"
	"strconv"
	"strings"

	"holycluster/spot"
)

// Two line grammars, tried in order. The first captures spot lines that carry
// both grid locators; the second accepts the bare form ending at the HHMMZ
// timestamp.
var (
	reWithLocators = regexp.MustCompile(`^DX de (\S+):\s+(\d+\.\d)\s+(\S+)\s+(.*?)\s+?(\w+) (\d+Z)\s+(\w+)`)
	reBare         = regexp.MustCompile(`^DX de (\S+):\s+(\d+\.\d)\s+(\S+)\s+(.*?)\s+?(\d+Z)`)

	trailingSSID = regexp.MustCompile(`-\d+$`)
)

// normalizeSpotter strips a numeric SSID suffix ("K3LR-2" -> "K3LR").
func normalizeSpotter(call string) string {
	return trailingSSID.ReplaceAllString(call, "")
}

// ParseLine turns one telnet line into a RawSpot. The boolean is false for
// lines that are not spots or do not match either grammar.
func ParseLine(line, clusterName string) (*spot.RawSpot, bool) {
	line = strings.TrimRight(line, "\r\n ")

	if m := reWithLocators.FindStringSubmatch(line); m != nil {
		freq, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, false
		}
		return &spot.RawSpot{
			SpotterCallsign: normalizeSpotter(m[1]),
			Frequency:       freq,
			DXCallsign:      m[3],
			Comment:         strings.TrimSpace(m[4]),
			DXLocator:       m[5],
			Time:            m[6],
			SpotterLocator:  m[7],
			Cluster:         clusterName,
		}, true
	}

	if m := reBare.FindStringSubmatch(line); m != nil {
		freq, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, false
		}
		return &spot.RawSpot{
			SpotterCallsign: normalizeSpotter(m[1]),
			Frequency:       freq,
			DXCallsign:      m[3],
			Comment:         strings.TrimSpace(m[4]),
			Time:            m[5],
			Cluster:         clusterName,
		}, true
	}

	return nil, false
}
