package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Valkey.SpotExpiration != 60 {
		t.Fatalf("expected spot expiration default 60, got %d", cfg.Valkey.SpotExpiration)
	}
	if cfg.Valkey.GeoExpiration != 3600 {
		t.Fatalf("expected geo expiration default 3600, got %d", cfg.Valkey.GeoExpiration)
	}
	if cfg.Postgres.RetentionDays != 14 {
		t.Fatalf("expected retention default 14, got %d", cfg.Postgres.RetentionDays)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "valkey:\n  spot_expiration: 120\npostgres:\n  host: filehost\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POSTGRES_HOST", "envhost")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Valkey.SpotExpiration != 120 {
		t.Fatalf("expected file override 120, got %d", cfg.Valkey.SpotExpiration)
	}
	if cfg.Postgres.Host != "envhost" {
		t.Fatalf("expected env to win, got %q", cfg.Postgres.Host)
	}
}

func TestValidateRequiresLogin(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty cluster login")
	}

	t.Setenv("USERNAME_FOR_TELNET_CLUSTERS", "4X1AA")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoadClusterServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters.csv")
	body := "hostname,port\n# a comment line\ndx.example.org,7300\nbad-row\ncluster.example.net,7000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write clusters: %v", err)
	}

	servers, err := LoadClusterServers(path)
	if err != nil {
		t.Fatalf("LoadClusterServers() error: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d: %v", len(servers), servers)
	}
	if servers[0].Addr() != "dx.example.org:7300" {
		t.Fatalf("unexpected first server %q", servers[0].Addr())
	}
}
