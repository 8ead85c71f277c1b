package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	EnvPassword     = "CBTC_PASSWORD"
	EnvClientSecret = "CBTC_CLIENT_SECRET"
)

// Config represents the SDK and CLI configuration
type Config struct {
	// Party is the acting party used by CLI commands unless overridden.
	Party    string         `yaml:"party"`
	Logging  LoggingConfig  `yaml:"logging"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Auth     AuthConfig     `yaml:"auth"`
	Attestor AttestorConfig `yaml:"attestor"`
	Registry RegistryConfig `yaml:"registry"`
	Bitcoin  BitcoinConfig  `yaml:"bitcoin"`
	Holding  HoldingConfig  `yaml:"holding"`
	Submit   SubmitConfig   `yaml:"submit"`
	Poll     PollConfig     `yaml:"poll"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// LedgerConfig contains Canton JSON Ledger API settings
type LedgerConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	UserID         string        `yaml:"user_id"`
	SynchronizerID string        `yaml:"synchronizer_id"`
	Timeout        time.Duration `yaml:"timeout" default:"60s"`
}

// AuthConfig contains OAuth (Keycloak) settings. A username selects the
// password grant, otherwise client credentials are used.
type AuthConfig struct {
	TokenURL     string        `yaml:"token_url" validate:"required,url"`
	ClientID     string        `yaml:"client_id" validate:"required"`
	ClientSecret string        `yaml:"client_secret" validate:"required_without=Username"`
	Audience     string        `yaml:"audience"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password" validate:"required_with=Username"`
	ExpiryLeeway time.Duration `yaml:"expiry_leeway" default:"60s"`
}

// AttestorConfig contains attestor network settings
type AttestorConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Chain   string        `yaml:"chain" validate:"required"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
}

// RegistryConfig contains token-standard registry settings
type RegistryConfig struct {
	URL string `yaml:"url" validate:"required,url"`
	// Network selects a well-known decentralized party when
	// DecentralizedParty is empty.
	Network            string        `yaml:"network" default:"devnet" validate:"oneof=mainnet testnet devnet"`
	DecentralizedParty string        `yaml:"decentralized_party"`
	Timeout            time.Duration `yaml:"timeout" default:"15s"`
}

// BitcoinConfig contains Bitcoin settings used for address validation
type BitcoinConfig struct {
	// Network is derived from the attestor chain when empty.
	Network string `yaml:"network" validate:"omitempty,oneof=mainnet testnet testnet3 signet regtest"`
}

// HoldingConfig contains holding discovery settings
type HoldingConfig struct {
	QueryMode    string `yaml:"query_mode" default:"interface" validate:"oneof=template interface"`
	TemplateID   string `yaml:"template_id"`
	InterfaceID  string `yaml:"interface_id"`
	InstrumentID string `yaml:"instrument_id" default:"CBTC"`
}

// SubmitConfig contains command retry settings
type SubmitConfig struct {
	MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"10s" validate:"gtefield=InitialBackoff"`
}

// PollConfig contains completion polling settings
type PollConfig struct {
	Interval time.Duration `yaml:"interval" default:"30s" validate:"gt=0"`
	// Timeout of zero waits until canceled.
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig contains metrics server settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":9090"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		cfg.Auth.ClientSecret = v
	}
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}

// Party returns the configured instrument admin party.
func (c *RegistryConfig) Party() string {
	if c.DecentralizedParty != "" {
		return c.DecentralizedParty
	}
	switch c.Network {
	case "mainnet":
		return registry.MainnetDecentralizedParty
	case "testnet":
		return registry.TestnetDecentralizedParty
	default:
		return registry.DevnetDecentralizedParty
	}
}

// LedgerClientConfig converts the ledger and auth sections.
func (c *Config) LedgerClientConfig() *ledger.Config {
	return &ledger.Config{
		BaseURL:        c.Ledger.URL,
		UserID:         c.Ledger.UserID,
		SynchronizerID: c.Ledger.SynchronizerID,
		Timeout:        c.Ledger.Timeout,
		Auth: &ledger.AuthConfig{
			TokenURL:     c.Auth.TokenURL,
			ClientID:     c.Auth.ClientID,
			ClientSecret: c.Auth.ClientSecret,
			Audience:     c.Auth.Audience,
			Username:     c.Auth.Username,
			Password:     c.Auth.Password,
			ExpiryLeeway: c.Auth.ExpiryLeeway,
		},
	}
}

// AttestorClientConfig converts the attestor section.
func (c *Config) AttestorClientConfig() *attestor.Config {
	return &attestor.Config{
		URL:            c.Attestor.URL,
		Chain:          c.Attestor.Chain,
		BitcoinNetwork: c.Bitcoin.Network,
		Timeout:        c.Attestor.Timeout,
	}
}

// RegistryClientConfig converts the registry section.
func (c *Config) RegistryClientConfig() *registry.Config {
	return &registry.Config{
		URL:                c.Registry.URL,
		DecentralizedParty: c.Registry.Party(),
		Timeout:            c.Registry.Timeout,
	}
}

// HoldingClientConfig converts the holding section.
func (c *Config) HoldingClientConfig() *holding.Config {
	return &holding.Config{
		Mode:        holding.QueryMode(c.Holding.QueryMode),
		TemplateID:  c.Holding.TemplateID,
		InterfaceID: c.Holding.InterfaceID,
	}
}

// CommandConfig converts the submit section.
func (c *Config) CommandConfig() *command.Config {
	return &command.Config{
		MaxRetries:     c.Submit.MaxRetries,
		InitialBackoff: c.Submit.InitialBackoff,
		MaxBackoff:     c.Submit.MaxBackoff,
	}
}

// WatchConfig returns the poll settings labeled name.
func (c *Config) WatchConfig(name string) watch.Config {
	return watch.Config{Name: name, Interval: c.Poll.Interval, Timeout: c.Poll.Timeout}
}
