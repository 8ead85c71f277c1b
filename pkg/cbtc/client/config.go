package client

import (
	"errors"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"
	"github.com/chainsafe/canton-cbtc/pkg/config"
)

// Config contains the configuration required to initialize the SDK client.
// It aggregates all sub-component configurations needed by the SDK.
type Config struct {
	Ledger   *ledger.Config
	Attestor *attestor.Config
	Registry *registry.Config // optional; nil disables transfers and batches
	Holding  *holding.Config
	Command  *command.Config

	InstrumentID string
	Poll         watch.Config
}

// FromConfig builds a client Config from a loaded configuration file.
func FromConfig(cfg *config.Config) *Config {
	return &Config{
		Ledger:       cfg.LedgerClientConfig(),
		Attestor:     cfg.AttestorClientConfig(),
		Registry:     cfg.RegistryClientConfig(),
		Holding:      cfg.HoldingClientConfig(),
		Command:      cfg.CommandConfig(),
		InstrumentID: cfg.Holding.InstrumentID,
		Poll:         cfg.WatchConfig(""),
	}
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.Ledger == nil {
		return errors.New("ledger config is required")
	}
	if c.Attestor == nil {
		return errors.New("attestor config is required")
	}
	return nil
}
