package tracker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Version is the ga.js release whose requests this client reproduces,
// sent as utmwv.
const Version = "5.2.5"

// Config is shared by every tracker of a process. It is read-only once
// handed to NewTracker.
type Config struct {
	ErrorSeverity Severity `yaml:"error_severity"`

	// AnonymizeIPAddresses zeroes the last IP block and sets aip=1.
	AnonymizeIPAddresses bool `yaml:"anonymize_ip_addresses"`

	// EnforceSessionQuota rejects requests beyond SessionQuota instead of
	// only reporting them.
	EnforceSessionQuota bool `yaml:"enforce_session_quota"`

	// SitespeedSampleRate is the percentage of pageviews with a load time
	// that report it.
	SitespeedSampleRate int `yaml:"sitespeed_sample_rate"`

	URLScheme      string        `yaml:"url_scheme"`
	EndpointHost   string        `yaml:"endpoint_host"`
	EndpointPath   string        `yaml:"endpoint_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// FireAndForget sends in the background without waiting for the
	// collector's response.
	FireAndForget bool `yaml:"fire_and_forget"`

	// MaxHitsPerSecond throttles outbound requests; zero disables it.
	MaxHitsPerSecond float64 `yaml:"max_hits_per_second"`

	Server     ServerConfig     `yaml:"server"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	Logger *slog.Logger `yaml:"-"`
}

// ServerConfig configures the relay handler in cmd/tracker.
type ServerConfig struct {
	Addr       string `yaml:"addr"`
	AccountID  string `yaml:"account_id"`
	DomainName string `yaml:"domain_name"`
	ForceIP    string `yaml:"force_ip"`
}

// ClickHouseConfig configures the optional hit log. An empty Host disables it.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

const sessionQuota = 500

func DefaultConfig() Config {
	return Config{
		ErrorSeverity:       SeverityRaise,
		SitespeedSampleRate: 1,
		URLScheme:           "http",
		EndpointHost:        "www.google-analytics.com",
		EndpointPath:        "/__utm.gif",
		RequestTimeout:      time.Second,
		Server: ServerConfig{
			Addr: ":9876",
		},
	}
}

// LoadConfig returns the defaults overridden by environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads a YAML file on top of the defaults; environment
// variables still take precedence.
func LoadConfigFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GA_ERROR_SEVERITY"); v != "" {
		s, err := ParseSeverity(v)
		if err != nil {
			return err
		}
		c.ErrorSeverity = s
	}
	if v := os.Getenv("GA_ANONYMIZE_IP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GA_ANONYMIZE_IP: %w", err)
		}
		c.AnonymizeIPAddresses = b
	}
	if v := os.Getenv("GA_ENDPOINT_HOST"); v != "" {
		c.EndpointHost = v
	}
	if v := os.Getenv("GA_ACCOUNT_ID"); v != "" {
		c.Server.AccountID = v
	}
	if v := os.Getenv("GA_DOMAIN_NAME"); v != "" {
		c.Server.DomainName = v
	}
	if v := os.Getenv("GOTRACKER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_DB"); v != "" {
		c.ClickHouse.DB = v
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		c.ClickHouse.User = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.EndpointHost == "" {
		return fmt.Errorf("endpoint host is required")
	}
	if c.URLScheme != "http" && c.URLScheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", c.URLScheme)
	}
	if c.SitespeedSampleRate < 0 || c.SitespeedSampleRate > 100 {
		return fmt.Errorf("sitespeed sample rate must be between 0 and 100, got %d", c.SitespeedSampleRate)
	}
	if c.MaxHitsPerSecond < 0 {
		return fmt.Errorf("max hits per second must not be negative")
	}
	return nil
}

// EndpointURL is the collector URL without query string.
func (c Config) EndpointURL() string {
	return c.URLScheme + "://" + c.EndpointHost + c.EndpointPath
}
