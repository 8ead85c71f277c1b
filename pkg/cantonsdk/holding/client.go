// Package holding discovers token holdings on the ledger and selects the
// subset that covers a requested amount.
package holding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainsafe/canton-cbtc/internal/metrics"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Holdings defines holding queries and selection.
type Holdings interface {
	// List returns every holding visible to party at the current ledger end,
	// locked ones included.
	List(ctx context.Context, party string) ([]Holding, error)

	// Balance sums the unlocked holdings of party for instrumentID.
	Balance(ctx context.Context, party, instrumentID string) (*Balance, error)

	// Select covers target with unlocked holdings of party for instrumentID.
	// Callers that submit the selection must hold the party lock across
	// selection and submission.
	Select(ctx context.Context, party, instrumentID string, target decimal.Decimal) (*Selection, error)
}

// Client implements Holdings.
type Client struct {
	cfg    Config
	ledger ledger.Ledger
	logger *zap.Logger
}

// New creates a new holding client.
func New(cfg *Config, l ledger.Ledger, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if l == nil {
		return nil, fmt.Errorf("nil ledger client")
	}

	s := applyOptions(opts)
	return &Client{cfg: c, ledger: l, logger: s.logger}, nil
}

func (c *Client) List(ctx context.Context, party string) ([]Holding, error) {
	if party == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party is required")
	}

	end, err := c.ledger.GetLedgerEnd(ctx)
	if err != nil {
		return nil, err
	}

	contracts, err := c.ledger.GetActiveContracts(ctx, end, []string{party}, c.cfg.filter())
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}

	out := make([]Holding, 0, len(contracts))
	for _, ac := range contracts {
		h, err := Decode(ac, c.cfg.InterfaceID)
		if err != nil {
			c.logger.Warn("skipping undecodable holding", zap.Error(err))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context, party, instrumentID string) (*Balance, error) {
	all, err := c.List(ctx, party)
	if err != nil {
		return nil, err
	}

	b := &Balance{Party: party, InstrumentID: instrumentID, Total: decimal.Zero}
	for _, h := range all {
		if h.Owner != party || (instrumentID != "" && !strings.EqualFold(h.InstrumentID, instrumentID)) {
			continue
		}
		if h.Locked {
			b.Locked++
			continue
		}
		b.Holdings++
		b.Total = b.Total.Add(h.Amount)
	}
	return b, nil
}

func (c *Client) Select(ctx context.Context, party, instrumentID string, target decimal.Decimal) (*Selection, error) {
	all, err := c.List(ctx, party)
	if err != nil {
		return nil, err
	}

	sel, err := SelectFrom(all, party, instrumentID, target)
	if err != nil {
		metrics.SelectionsTotal.WithLabelValues(selectionStatus(err)).Inc()
		return nil, err
	}

	metrics.SelectionsTotal.WithLabelValues("selected").Inc()
	metrics.SelectedHoldings.Observe(float64(len(sel.Selected)))
	c.logger.Debug("holdings selected",
		zap.String("party", party),
		zap.String("target", target.String()),
		zap.Int("count", len(sel.Selected)),
		zap.String("change", sel.Change.String()),
	)
	return sel, nil
}

func selectionStatus(err error) string {
	var insufficient *sdkerrors.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient"
	case sdkerrors.Is(err, sdkerrors.CategoryInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
