// Package attestor talks to the attestor network that governs CBTC and
// resolves the reference contracts a ledger command must disclose.
package attestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/btcaddr"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Attestor defines the attestor network endpoints.
type Attestor interface {
	// AccountRules returns the deposit and withdraw account rules contracts.
	AccountRules(ctx context.Context) (*AccountRules, error)

	// TokenStandardContracts returns the reference contracts a burn needs.
	TokenStandardContracts(ctx context.Context) (*TokenStandardContracts, error)

	// BitcoinAddress returns the deposit address for a deposit account id.
	BitcoinAddress(ctx context.Context, accountID string) (string, error)

	// Chain returns the Canton chain name the client is configured for.
	Chain() string
}

// Client implements Attestor over HTTP. Every call goes to the network;
// nothing is cached so archived reference contracts are never reused.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	btcParams  *chaincfg.Params
	logger     *zap.Logger
}

// New creates a new attestor client.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	network := cfg.BitcoinNetwork
	if network == "" {
		network = btcaddr.NetworkForChain(cfg.Chain)
	}
	params, err := btcaddr.Params(network)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := applyOptions(opts)
	httpClient := s.httpClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		btcParams:  params,
		logger:     s.logger,
	}, nil
}

func (c *Client) Chain() string { return c.cfg.Chain }

func (c *Client) AccountRules(ctx context.Context) (*AccountRules, error) {
	var out AccountRules
	if err := c.postJSON(ctx, "/app/get-account-contract-rules", map[string]string{"chain": c.cfg.Chain}, &out); err != nil {
		return nil, err
	}
	if out.DepositRules.ContractID == "" || out.WithdrawRules.ContractID == "" {
		return nil, sdkerrors.AttestorUnavailableError(errors.New("account rules response is incomplete"))
	}
	return &out, nil
}

func (c *Client) TokenStandardContracts(ctx context.Context) (*TokenStandardContracts, error) {
	var out TokenStandardContracts
	if err := c.postJSON(ctx, "/app/get-token-standard-contracts", map[string]string{"chain": c.cfg.Chain}, &out); err != nil {
		return nil, err
	}
	if err := out.validate(); err != nil {
		return nil, sdkerrors.AttestorUnavailableError(err)
	}
	return &out, nil
}

func (c *Client) BitcoinAddress(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", sdkerrors.InvalidInputError(nil, "account id is required")
	}

	body, err := c.post(ctx, "/app/get-bitcoin-address", map[string]string{"id": accountID, "chain": c.cfg.Chain})
	if err != nil {
		return "", err
	}

	addr := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if err := btcaddr.Validate(addr, c.btcParams); err != nil {
		return "", sdkerrors.AttestorUnavailableError(err)
	}
	return addr, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := c.post(ctx, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return sdkerrors.AttestorUnavailableError(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, sdkerrors.AttestorUnavailableError(fmt.Errorf("call %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, sdkerrors.AttestorUnavailableError(fmt.Errorf("read %s response: %w", path, err))
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("attestor returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, sdkerrors.AttestorUnavailableError(fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(body)))
	}
	return body, nil
}
