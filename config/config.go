// Package config loads process configuration from an optional YAML file and
// the environment. Environment variables win over the file; the file wins
// over built-in defaults.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envKeys maps the flat environment variable names to config paths.
var envKeys = map[string]string{
	"POSTGRES_USER":                "postgres.user",
	"POSTGRES_PASSWORD":            "postgres.password",
	"POSTGRES_HOST":                "postgres.host",
	"POSTGRES_PORT":                "postgres.port",
	"POSTGRES_DB_NAME":             "postgres.db_name",
	"POSTGRES_DB_RETENTION_DAYS":   "postgres.retention_days",
	"VALKEY_HOST":                  "valkey.host",
	"VALKEY_PORT":                  "valkey.port",
	"VALKEY_DB":                    "valkey.db",
	"VALKEY_SPOT_EXPIRATION":       "valkey.spot_expiration",
	"VALKEY_GEO_EXPIRATION":        "valkey.geo_expiration",
	"QRZ_USER":                     "qrz.user",
	"QRZ_PASSWORD":                 "qrz.password",
	"QRZ_API_KEY":                  "qrz.api_key",
	"QRZ_SESSION_KEY_REFRESH":      "qrz.session_key_refresh",
	"USERNAME_FOR_TELNET_CLUSTERS": "cluster.login",
	"HTTP_LISTEN":                  "http.listen",
}

type PostgresConfig struct {
	User          string `koanf:"user"`
	Password      string `koanf:"password"`
	Host          string `koanf:"host"`
	Port          int    `koanf:"port"`
	DBName        string `koanf:"db_name"`
	RetentionDays int    `koanf:"retention_days"`
	MinConns      int    `koanf:"min_conns"`
	MaxConns      int    `koanf:"max_conns"`
}

// URL renders the pgx connection string.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.DBName)
}

type ValkeyConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	DB             int    `koanf:"db"`
	SpotExpiration int    `koanf:"spot_expiration"` // seconds
	GeoExpiration  int    `koanf:"geo_expiration"`  // seconds
}

func (c ValkeyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type QRZConfig struct {
	User              string `koanf:"user"`
	Password          string `koanf:"password"`
	APIKey            string `koanf:"api_key"`
	SessionKeyRefresh int    `koanf:"session_key_refresh"` // seconds
}

type ClusterConfig struct {
	Login       string `koanf:"login"`
	ServersFile string `koanf:"servers_file"`
}

type HTTPConfig struct {
	Listen string `koanf:"listen"`
}

type DataConfig struct {
	BandsFile    string `koanf:"bands_file"`
	ModesFile    string `koanf:"modes_file"`
	PrefixesFile string `koanf:"prefixes_file"`
	CTYFile      string `koanf:"cty_file"`
}

type ArchiveConfig struct {
	Enabled         bool   `koanf:"enabled"`
	DBPath          string `koanf:"db_path"`
	QueueSize       int    `koanf:"queue_size"`
	BatchSize       int    `koanf:"batch_size"`
	BatchIntervalMS int    `koanf:"batch_interval_ms"`
	BusyTimeoutMS   int    `koanf:"busy_timeout_ms"`
	RetentionDays   int    `koanf:"retention_days"`
}

type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Broker   string `koanf:"broker"`
	ClientID string `koanf:"client_id"`
	Topic    string `koanf:"topic"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type Config struct {
	Postgres PostgresConfig `koanf:"postgres"`
	Valkey   ValkeyConfig   `koanf:"valkey"`
	QRZ      QRZConfig      `koanf:"qrz"`
	Cluster  ClusterConfig  `koanf:"cluster"`
	HTTP     HTTPConfig     `koanf:"http"`
	Data     DataConfig     `koanf:"data"`
	Archive  ArchiveConfig  `koanf:"archive"`
	MQTT     MQTTConfig     `koanf:"mqtt"`
}

func defaults() *Config {
	return &Config{
		Postgres: PostgresConfig{
			User:          "postgres",
			Host:          "localhost",
			Port:          5432,
			DBName:        "holycluster",
			RetentionDays: 14,
			MinConns:      2,
			MaxConns:      10,
		},
		Valkey: ValkeyConfig{
			Host:           "localhost",
			Port:           6379,
			DB:             0,
			SpotExpiration: 60,
			GeoExpiration:  3600,
		},
		QRZ: QRZConfig{
			SessionKeyRefresh: 3600,
		},
		Cluster: ClusterConfig{
			ServersFile: "data/clusters.csv",
		},
		HTTP: HTTPConfig{
			Listen: ":8000",
		},
		Data: DataConfig{
			BandsFile:    "data/bands.csv",
			ModesFile:    "data/modes.yaml",
			PrefixesFile: "data/prefixes_list.csv",
		},
		Archive: ArchiveConfig{
			DBPath:          "data/archive/spots.db",
			QueueSize:       10000,
			BatchSize:       200,
			BatchIntervalMS: 1000,
			BusyTimeoutMS:   5000,
			RetentionDays:   14,
		},
		MQTT: MQTTConfig{
			ClientID: "holycluster",
			Topic:    "holycluster/spots",
		},
	}
}

// Load reads configuration. path may be empty; a missing file at a non-empty
// path is an error, so typos don't silently fall back to defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		if mapped, ok := envKeys[s]; ok {
			return mapped
		}
		return "" // ignore unrelated environment
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate enforces the fail-fast invariants.
func (c *Config) Validate() error {
	if c.Cluster.Login == "" {
		return fmt.Errorf("config: USERNAME_FOR_TELNET_CLUSTERS must not be empty")
	}
	return nil
}

// LoadOrExit is the main() entry: any config error is fatal.
func LoadOrExit(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
