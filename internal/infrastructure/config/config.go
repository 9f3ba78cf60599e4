package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings fixed for the lifetime of the process.
// Values operators tune while polling runs live in Settings.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sources   SourcesConfig   `yaml:"sources"`
	Poller    PollerConfig    `yaml:"poller"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
// The database holds the "utilities" and "registers" tables of the SQLite configuration source.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty origin list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SourcesConfig locates the configuration sources (CSV directories and workbooks).
type SourcesConfig struct {
	// Directory is scanned for sub-directories holding utilities.csv and
	// registers.csv, and for .xlsx workbooks.
	Directory string `yaml:"directory"`

	// Default is the identifier of the source selected at startup.
	// Empty selects the first source found.
	Default string `yaml:"default"`
}

// PollerConfig contains the polling engine settings fixed for the process lifetime.
type PollerConfig struct {
	// SettingsFile is the key/value file re-read at the start of every cycle.
	SettingsFile string `yaml:"settings_file"`

	// HistorySize is the number of readings kept per utility.
	HistorySize int `yaml:"history_size"`

	// DefaultPort is used for utilities whose row has no port.
	DefaultPort int `yaml:"default_port"`

	// Cabinets maps cabinet numbers to meter gateway IPs for rows without an explicit IP.
	Cabinets map[string]string `yaml:"cabinets"`
}

// EnvPrefix starts every environment variable that overrides the YAML file,
// e.g. METERPOLL_API_PORT.
const EnvPrefix = "METERPOLL_"

// Load builds the configuration from defaults, then the YAML file at path,
// then the METERPOLL_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for _, o := range envOverrides(cfg) {
		if v, ok := os.LookupEnv(EnvPrefix + o.name); ok && v != "" {
			o.set(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// DefaultCabinets is the cabinet gateway table used when the YAML file has none.
func DefaultCabinets() map[string]string {
	return map[string]string{
		"1": "192.168.156.75",
		"2": "192.168.156.76",
		"3": "192.168.156.77",
	}
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Meterpoll",
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/meterpoll.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meterpoll",
			},
			QoS:         1,
			TopicPrefix: "meterpoll",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "meters",
			BatchSize:     500,
			FlushInterval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sources: SourcesConfig{
			Directory: "./sources",
		},
		Poller: PollerConfig{
			SettingsFile: "./settings.yaml",
			HistorySize:  60,
			DefaultPort:  502,
			Cabinets:     DefaultCabinets(),
		},
	}
}

type envOverride struct {
	name string
	set  func(string)
}

func envOverrides(cfg *Config) []envOverride {
	str := func(dst *string) func(string) {
		return func(v string) { *dst = v }
	}
	num := func(dst *int) func(string) {
		return func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	return []envOverride{
		{"DATABASE_PATH", str(&cfg.Database.Path)},
		{"MQTT_HOST", str(&cfg.MQTT.Broker.Host)},
		{"MQTT_USERNAME", str(&cfg.MQTT.Auth.Username)},
		{"MQTT_PASSWORD", str(&cfg.MQTT.Auth.Password)},
		{"API_HOST", str(&cfg.API.Host)},
		{"API_PORT", num(&cfg.API.Port)},
		{"INFLUXDB_TOKEN", str(&cfg.InfluxDB.Token)},
		{"SOURCES_DIRECTORY", str(&cfg.Sources.Directory)},
		{"SETTINGS_FILE", str(&cfg.Poller.SettingsFile)},
	}
}

// Validate reports every problem found in c as one error.
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	check(c.Site.ID != "", "site.id is required")
	check(!c.Database.Enabled || c.Database.Path != "", "database.path is required when database is enabled")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(!c.MQTT.Enabled || strings.TrimSpace(c.MQTT.TopicPrefix) != "", "mqtt.topic_prefix is required when mqtt is enabled")
	check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
	check(!c.InfluxDB.Enabled || c.InfluxDB.Bucket != "", "influxdb.bucket is required when influxdb is enabled")
	check(c.Sources.Directory != "" || c.Database.Enabled, "sources.directory is required unless the database source is enabled")
	check(c.Poller.HistorySize >= 1, "poller.history_size must be at least 1")
	check(validPort(c.Poller.DefaultPort), "poller.default_port must be between 1 and 65535")

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadTimeout bounds reading a whole request, headers included.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout bounds writing a response.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout bounds keep-alive connections between requests.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }
