package configloader

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WALLETSESSION_PORT.
const EnvPrefix = "WALLETSESSION"

// DefaultPath is used when neither a flag nor WALLETSESSION_CONFIG names a file.
const DefaultPath = "config/config.yml"

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	Port                 string   `yaml:"port"`
	ReadTimeoutSeconds   int      `yaml:"readTimeoutSeconds"`
	IdleTimeoutSeconds   int      `yaml:"idleTimeoutSeconds"`
	AllowedOrigins       []string `yaml:"allowedOrigins"`
	EnablePprof          bool     `yaml:"enablePprof"`
	ShutdownGraceSeconds int      `yaml:"shutdownGraceSeconds"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	File   string `yaml:"file"`
}

// NetworkConfig selects the target network and optional extra descriptors.
type NetworkConfig struct {
	Target          string `yaml:"target"`
	DefinitionsFile string `yaml:"definitionsFile"`
}

// SessionConfig holds wallet session settings.
type SessionConfig struct {
	ConnectTimeoutSeconds int `yaml:"connectTimeoutSeconds"`
}

// EndpointConfig is a wallet endpoint: http(s)://, ws(s)://, an IPC path or memory://name.
type EndpointConfig struct {
	URL           string `yaml:"url"`
	NoChainSwitch bool   `yaml:"noChainSwitch"`
}

// RelayConfig configures the remote (QR pairing) transport.
type RelayConfig struct {
	URL                    string `yaml:"url"`
	RequestTimeoutMillis   int64  `yaml:"requestTimeoutMillis"`
	PollIntervalMillis     int64  `yaml:"pollIntervalMillis"`
	ApprovalTimeoutSeconds int    `yaml:"approvalTimeoutSeconds"`
	DappName               string `yaml:"dappName"`
	DappURL                string `yaml:"dappURL"`
}

// TransportsConfig holds the three wallet transports.
type TransportsConfig struct {
	Injected           EndpointConfig `yaml:"injected"`
	Dedicated          EndpointConfig `yaml:"dedicated"`
	Relay              RelayConfig    `yaml:"relay"`
	ProbeTimeoutMillis int64          `yaml:"probeTimeoutMillis"`
	PollIntervalMillis int64          `yaml:"pollIntervalMillis"`
}

// ContractsConfig points at the contract address books.
type ContractsConfig struct {
	Dir string `yaml:"dir"`
}

// ListingConfig tunes record listings.
type ListingConfig struct {
	Batch             *bool   `yaml:"batch"`
	MaxBatchSize      int     `yaml:"maxBatchSize"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	CacheTTLSeconds   int     `yaml:"cacheTTLSeconds"`
}

// RPCClientConfig holds configuration for the chain readers.
type RPCClientConfig struct {
	ConnectTimeoutMillis int64 `yaml:"connectTimeoutMillis"`
	CallTimeoutMillis    int64 `yaml:"callTimeoutMillis"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Network    NetworkConfig    `yaml:"network"`
	Session    SessionConfig    `yaml:"session"`
	Transports TransportsConfig `yaml:"transports"`
	Contracts  ContractsConfig  `yaml:"contracts"`
	Listing    ListingConfig    `yaml:"listing"`
	RPCClient  RPCClientConfig  `yaml:"rpcClient"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// EnvOverrides are the settings that can be replaced from the environment.
type EnvOverrides struct {
	ConfigPath    string `envconfig:"CONFIG"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	Port          string `envconfig:"PORT"`
	TargetNetwork string `envconfig:"TARGET_NETWORK"`
	InjectedURL   string `envconfig:"INJECTED_URL"`
	DedicatedURL  string `envconfig:"DEDICATED_URL"`
	RelayURL      string `envconfig:"RELAY_URL"`
}

// ReadEnv processes the WALLETSESSION_* variables.
func ReadEnv() (EnvOverrides, error) {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return env, fmt.Errorf("failed to process environment overrides: %w", err)
	}
	return env, nil
}

// ResolvePath picks the config path: explicit flag, then environment, then DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env, err := ReadEnv(); err == nil && env.ConfigPath != "" {
		return env.ConfigPath
	}
	return DefaultPath
}

// Load reads the YAML configuration file, applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Errorf("Failed to unmarshal config data from %s: %v", path, err)
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	env, err := ReadEnv()
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logrus.Info("Configuration loaded successfully.")
	return &cfg, nil
}

func (c *Config) applyEnv(env EnvOverrides) {
	override := func(name string, dst *string, value string) {
		if value == "" {
			return
		}
		*dst = value
		logrus.Infof("%s overridden from environment", name)
	}
	override("logging.level", &c.Logging.Level, env.LogLevel)
	override("server.port", &c.Server.Port, env.Port)
	override("network.target", &c.Network.Target, env.TargetNetwork)
	override("transports.injected.url", &c.Transports.Injected.URL, env.InjectedURL)
	override("transports.dedicated.url", &c.Transports.Dedicated.URL, env.DedicatedURL)
	override("transports.relay.url", &c.Transports.Relay.URL, env.RelayURL)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
		logrus.Infof("Server.Port not set, defaulting to %s", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.IdleTimeoutSeconds <= 0 {
		c.Server.IdleTimeoutSeconds = 60
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		c.Server.ShutdownGraceSeconds = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Session.ConnectTimeoutSeconds <= 0 {
		c.Session.ConnectTimeoutSeconds = 120
		logrus.Infof("Session.ConnectTimeoutSeconds not set, defaulting to %d seconds", c.Session.ConnectTimeoutSeconds)
	}
	if c.Transports.ProbeTimeoutMillis <= 0 {
		c.Transports.ProbeTimeoutMillis = 5000
	}
	if c.Transports.PollIntervalMillis <= 0 {
		c.Transports.PollIntervalMillis = 2000
	}
	if c.Transports.Relay.RequestTimeoutMillis <= 0 {
		c.Transports.Relay.RequestTimeoutMillis = 10000
	}
	if c.Transports.Relay.PollIntervalMillis <= 0 {
		c.Transports.Relay.PollIntervalMillis = 1000
	}
	if c.Transports.Relay.ApprovalTimeoutSeconds <= 0 {
		c.Transports.Relay.ApprovalTimeoutSeconds = 120
	}
	if c.Transports.Relay.DappName == "" {
		c.Transports.Relay.DappName = "BlockDAG Dashboard"
	}
	if c.Contracts.Dir == "" {
		c.Contracts.Dir = "data/contracts"
		logrus.Infof("Contracts.Dir not set, defaulting to %s", c.Contracts.Dir)
	}
	if c.Listing.Batch == nil {
		batch := true
		c.Listing.Batch = &batch
		logrus.Info("Listing.Batch not set, defaulting to JSON-RPC batch reads")
	}
	if c.Listing.MaxBatchSize <= 0 {
		c.Listing.MaxBatchSize = 50
		logrus.Infof("Listing.MaxBatchSize not set, defaulting to %d", c.Listing.MaxBatchSize)
	}
	if c.Listing.Concurrency <= 0 {
		c.Listing.Concurrency = 4
	}
	if c.Listing.RequestsPerSecond <= 0 {
		c.Listing.RequestsPerSecond = 20
	}
	if c.Listing.CacheTTLSeconds == 0 {
		c.Listing.CacheTTLSeconds = 30
		logrus.Infof("Listing.CacheTTLSeconds not set, defaulting to %d seconds", c.Listing.CacheTTLSeconds)
	}
	if c.RPCClient.ConnectTimeoutMillis <= 0 {
		c.RPCClient.ConnectTimeoutMillis = 10000
	}
	if c.RPCClient.CallTimeoutMillis <= 0 {
		c.RPCClient.CallTimeoutMillis = 15000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Transports.Injected.URL == "" && c.Transports.Dedicated.URL == "" && c.Transports.Relay.URL == "" {
		logrus.Warn("No wallet transport is configured, every connect will report NoProviderDetected.")
	}
	if c.Listing.MaxBatchSize > 1000 {
		return fmt.Errorf("listing.maxBatchSize %d is too large (max 1000)", c.Listing.MaxBatchSize)
	}
	return nil
}

// ConnectTimeout is the upper bound of one connect attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeoutSeconds) * time.Second
}

// ListingCacheTTL is negative when caching is disabled.
func (c *Config) ListingCacheTTL() time.Duration {
	if c.Listing.CacheTTLSeconds < 0 {
		return -1
	}
	return time.Duration(c.Listing.CacheTTLSeconds) * time.Second
}

// BatchReads reports whether listings use JSON-RPC batches.
func (c *Config) BatchReads() bool {
	return c.Listing.Batch == nil || *c.Listing.Batch
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Provider serves a loaded configuration.
type Provider struct {
	cfg *Config
}

// NewProvider wraps cfg.
func NewProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg}
}

// GetConfig returns the configuration.
func (p *Provider) GetConfig() *Config {
	return p.cfg
}
