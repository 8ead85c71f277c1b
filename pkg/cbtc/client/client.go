// Package client wires the CBTC SDK together: one ledger session shared by
// the mint, burn, transfer and batch orchestrators, and one party lock
// shared by every operation that spends holdings.
package client

import (
	"errors"
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/batch"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/mint"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/partylock"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/redeem"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"
)

// ErrTransfersDisabled is returned by accessors of components that need a
// registry when none is configured.
var ErrTransfersDisabled = errors.New("registry not configured")

// Client is the CBTC SDK entry point.
type Client struct {
	Ledger    ledger.Ledger
	Attestor  attestor.Attestor
	Holdings  holding.Holdings
	Submitter command.Submitter

	Mint   mint.Minter
	Redeem redeem.Redeemer

	// Transfer and Batch are nil when no registry is configured.
	Transfer *transfer.Client
	Batch    *batch.Engine
}

// New creates a new SDK client.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := applyOptions(opts)

	ledgerOpts := []ledger.Option{ledger.WithLogger(s.logger.Named("ledger"))}
	attestorOpts := []attestor.Option{attestor.WithLogger(s.logger.Named("attestor"))}
	registryOpts := []registry.Option{registry.WithLogger(s.logger.Named("registry"))}
	if s.httpClient != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithHTTPClient(s.httpClient))
		attestorOpts = append(attestorOpts, attestor.WithHTTPClient(s.httpClient))
		registryOpts = append(registryOpts, registry.WithHTTPClient(s.httpClient))
	}
	if s.authProvider != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithAuthProvider(s.authProvider))
	}

	l, err := ledger.New(cfg.Ledger, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}
	att, err := attestor.New(cfg.Attestor, attestorOpts...)
	if err != nil {
		return nil, fmt.Errorf("attestor client: %w", err)
	}
	h, err := holding.New(cfg.Holding, l, holding.WithLogger(s.logger.Named("holding")))
	if err != nil {
		return nil, fmt.Errorf("holding client: %w", err)
	}
	sub, err := command.New(cfg.Command, l, command.WithLogger(s.logger.Named("command")))
	if err != nil {
		return nil, fmt.Errorf("command submitter: %w", err)
	}

	instrumentID := cfg.InstrumentID
	if instrumentID == "" {
		instrumentID = holding.DefaultInstrumentID
	}
	locker := partylock.New()
	resolver := attestor.NewResolver(att)

	minter, err := mint.New(l, att, sub,
		mint.WithLogger(s.logger.Named("mint")),
		mint.WithResolver(resolver),
		mint.WithPollConfig(named(cfg.Poll, "deposit")),
	)
	if err != nil {
		return nil, fmt.Errorf("mint client: %w", err)
	}

	redeemer, err := redeem.New(l, att, h, sub,
		redeem.WithLogger(s.logger.Named("redeem")),
		redeem.WithResolver(resolver),
		redeem.WithLocker(locker),
		redeem.WithInstrumentID(instrumentID),
		redeem.WithBitcoinNetwork(cfg.Attestor.BitcoinNetwork),
		redeem.WithPollConfig(named(cfg.Poll, "withdraw")),
	)
	if err != nil {
		return nil, fmt.Errorf("redeem client: %w", err)
	}

	c := &Client{
		Ledger:    l,
		Attestor:  att,
		Holdings:  h,
		Submitter: sub,
		Mint:      minter,
		Redeem:    redeemer,
	}

	if cfg.Registry == nil {
		return c, nil
	}

	reg, err := registry.New(cfg.Registry, registryOpts...)
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}
	tc, err := transfer.New(l, h, reg, sub,
		transfer.WithLogger(s.logger.Named("transfer")),
		transfer.WithLocker(locker),
		transfer.WithInstrumentID(instrumentID),
	)
	if err != nil {
		return nil, fmt.Errorf("transfer client: %w", err)
	}
	engine, err := batch.New(tc, l, batch.WithLogger(s.logger.Named("batch")))
	if err != nil {
		return nil, fmt.Errorf("batch engine: %w", err)
	}
	c.Transfer = tc
	c.Batch = engine
	return c, nil
}

// Transfers returns the transfer client or ErrTransfersDisabled.
func (c *Client) Transfers() (*transfer.Client, error) {
	if c.Transfer == nil {
		return nil, ErrTransfersDisabled
	}
	return c.Transfer, nil
}

// Batches returns the batch engine or ErrTransfersDisabled.
func (c *Client) Batches() (*batch.Engine, error) {
	if c.Batch == nil {
		return nil, ErrTransfersDisabled
	}
	return c.Batch, nil
}

func named(cfg watch.Config, name string) watch.Config {
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg
}
