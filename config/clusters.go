package config

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ClusterServer is one remote cluster endpoint from the servers CSV.
type ClusterServer struct {
	Host string
	Port int
}

func (s ClusterServer) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadClusterServers reads the clusters CSV (columns hostname,port). Lines
// whose first non-blank character is '#' are comments.
func LoadClusterServers(path string) ([]ClusterServer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open clusters file: %w", err)
	}
	defer f.Close()

	var filtered strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		filtered.WriteString(line)
		filtered.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read clusters file: %w", err)
	}

	r := csv.NewReader(strings.NewReader(filtered.String()))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("config: parse clusters file: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	hostIdx, portIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "hostname":
			hostIdx = i
		case "port":
			portIdx = i
		}
	}
	if hostIdx < 0 || portIdx < 0 {
		return nil, fmt.Errorf("config: clusters file missing hostname/port header")
	}

	servers := make([]ClusterServer, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= hostIdx || len(row) <= portIdx {
			continue
		}
		host := strings.TrimSpace(row[hostIdx])
		port, err := strconv.Atoi(strings.TrimSpace(row[portIdx]))
		if host == "" || err != nil || port <= 0 {
			continue
		}
		servers = append(servers, ClusterServer{Host: host, Port: port})
	}
	return servers, nil
}
