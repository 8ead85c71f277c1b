// Package registry is a client for the token-standard registry that supplies
// transfer factories and choice contexts for CBTC transfer instructions.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry defines the registry endpoints used by transfers.
type Registry interface {
	// TransferFactory resolves the factory and context for a transfer.
	TransferFactory(ctx context.Context, args *TransferFactoryArgs) (*TransferFactory, error)

	// AcceptContext returns the context needed to accept a transfer instruction.
	AcceptContext(ctx context.Context, instructionCID string) (*ChoiceContext, error)

	// WithdrawContext returns the context needed to withdraw a transfer instruction.
	WithdrawContext(ctx context.Context, instructionCID string) (*ChoiceContext, error)

	// Admin returns the instrument admin party.
	Admin() string
}

// Client implements Registry over HTTP.
type Client struct {
	cfg        *Config
	httpClient httpClient
	logger     *zap.Logger
}

// New creates a new registry client.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := applyOptions(opts)
	hc := s.httpClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: hc, logger: s.logger}, nil
}

func (c *Client) Admin() string { return c.cfg.DecentralizedParty }

func (c *Client) TransferFactory(ctx context.Context, args *TransferFactoryArgs) (*TransferFactory, error) {
	if args == nil {
		return nil, sdkerrors.InvalidInputError(nil, "transfer arguments are required")
	}

	body := struct {
		ChoiceArguments    *TransferFactoryArgs `json:"choiceArguments"`
		ExcludeDebugFields bool                 `json:"excludeDebugFields"`
	}{args, true}

	var out TransferFactory
	if err := c.post(ctx, c.instructionPath("transfer-factory"), body, &out); err != nil {
		return nil, err
	}
	if out.FactoryID == "" {
		return nil, fmt.Errorf("registry returned no transfer factory")
	}
	ensureContext(&out.ChoiceContext)
	return &out, nil
}

func (c *Client) AcceptContext(ctx context.Context, instructionCID string) (*ChoiceContext, error) {
	return c.choiceContext(ctx, instructionCID, "accept")
}

func (c *Client) WithdrawContext(ctx context.Context, instructionCID string) (*ChoiceContext, error) {
	return c.choiceContext(ctx, instructionCID, "withdraw")
}

func (c *Client) choiceContext(ctx context.Context, instructionCID, choice string) (*ChoiceContext, error) {
	if instructionCID == "" {
		return nil, sdkerrors.InvalidInputError(nil, "transfer instruction id is required")
	}

	body := map[string]any{"meta": values.EmptyMetadata()}
	path := c.instructionPath(url.PathEscape(instructionCID), "choice-contexts", choice)

	var out ChoiceContext
	if err := c.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	ensureContext(&out)
	return &out, nil
}

func (c *Client) instructionPath(parts ...string) string {
	base := fmt.Sprintf("%s/api/token-standard/v0/registrars/%s/registry/transfer-instruction/v1",
		strings.TrimRight(c.cfg.URL, "/"), url.PathEscape(c.cfg.DecentralizedParty))
	return base + "/" + strings.Join(parts, "/")
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return sdkerrors.TransientNetworkError(fmt.Errorf("call registry: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return sdkerrors.TransientNetworkError(fmt.Errorf("read registry response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("registry returned error status", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
		err := fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= http.StatusInternalServerError {
			return sdkerrors.TransientNetworkError(err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}

func ensureContext(cc *ChoiceContext) {
	if cc.ChoiceContextData.Values == nil {
		cc.ChoiceContextData = values.EmptyChoiceContext()
	}
}
