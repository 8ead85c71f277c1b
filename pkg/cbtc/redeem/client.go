// Package redeem implements the CBTC to BTC workflow: open a withdraw
// account bound to a BTC destination, burn CBTC holdings against it, and
// wait for the attestor network to pay out.
package redeem

import (
	"context"
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/btcaddr"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/flow"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/partylock"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Redeemer defines the burn workflow operations.
type Redeemer interface {
	// Run drives the workflow to AwaitingExternalProcessing, or to Completed
	// when the request asks to wait.
	Run(ctx context.Context, req *Request) (*Result, error)

	// ListWithdrawAccounts returns the withdraw accounts owned by party.
	ListWithdrawAccounts(ctx context.Context, party string) ([]*WithdrawAccount, error)

	// CreateWithdrawAccount opens a withdraw account paying out to destination.
	CreateWithdrawAccount(ctx context.Context, party, destination, commandID string) (*WithdrawAccount, error)

	// RequestWithdraw selects holdings and burns amount from an account.
	RequestWithdraw(ctx context.Context, args *WithdrawRequestArgs) (*WithdrawRequest, error)

	// ListWithdrawRequests returns the withdraw requests visible to party.
	ListWithdrawRequests(ctx context.Context, party string) ([]*WithdrawRequest, error)

	// WatchCompletion polls a withdraw request until its BTC tx id is set.
	// The attestors may replace the request when they record the tx id; the
	// replacement is recognized by account, amount and destination.
	WatchCompletion(ctx context.Context, party string, req *WithdrawRequest) *watch.Handle[*WithdrawRequest]
}

// Client implements Redeemer.
type Client struct {
	ledger    ledger.Ledger
	resolver  attestor.Resolver
	holdings  holding.Holdings
	submitter command.Submitter
	locker    *partylock.Locker

	btcParams    *chaincfg.Params
	instrumentID string
	poll         watch.Config
	logger       *zap.Logger
}

// New creates a new redeem client.
func New(
	l ledger.Ledger,
	a attestor.Attestor,
	h holding.Holdings,
	sub command.Submitter,
	opts ...Option,
) (*Client, error) {
	if l == nil {
		return nil, fmt.Errorf("nil ledger client")
	}
	if a == nil {
		return nil, fmt.Errorf("nil attestor client")
	}
	if h == nil {
		return nil, fmt.Errorf("nil holdings client")
	}
	if sub == nil {
		return nil, fmt.Errorf("nil submitter")
	}

	s := applyOptions(opts)

	network := s.bitcoinNetwork
	if network == "" {
		network = btcaddr.NetworkForChain(a.Chain())
	}
	params, err := btcaddr.Params(network)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	resolver := s.resolver
	if resolver == nil {
		resolver = attestor.NewResolver(a)
	}
	locker := s.locker
	if locker == nil {
		locker = partylock.New()
	}
	if s.poll.Name == "" {
		s.poll.Name = "withdraw"
	}

	return &Client{
		ledger:       l,
		resolver:     resolver,
		holdings:     h,
		submitter:    sub,
		locker:       locker,
		btcParams:    params,
		instrumentID: s.instrumentID,
		poll:         s.poll,
		logger:       s.logger,
	}, nil
}

func (c *Client) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid burn request")
	}

	logger := c.logger.With(zap.String("party", req.Party), zap.String("amount", req.Amount.String()))
	t := flow.NewTracker(flowName, logger)
	res := &Result{}
	done := func(err error) (*Result, error) {
		res.State = t.State()
		res.History = t.History()
		return res, err
	}

	if _, err := c.ledger.JWTSubject(ctx); err != nil {
		return done(t.Fail(flow.Authenticated, err))
	}
	t.Advance(flow.Authenticated)

	if req.ExistingAccountID != "" {
		account, err := c.findAccount(ctx, req.Party, req.ExistingAccountID)
		if err != nil {
			return done(t.Fail(flow.AccountCreated, err))
		}
		res.Account = account
		t.Advance(flow.AccountCreated)
	} else {
		if err := btcaddr.Validate(req.DestinationBtcAddress, c.btcParams); err != nil {
			return done(t.Fail(flow.RulesFetched, sdkerrors.InvalidInputError(err, "invalid destination address")))
		}
		disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindWithdrawAccount)
		if err != nil {
			return done(t.Fail(flow.RulesFetched, err))
		}
		t.Advance(flow.RulesFetched)

		account, err := c.createWithdrawAccount(ctx, req.Party, req.DestinationBtcAddress, req.AccountCommandID, disc)
		if err != nil {
			return done(t.Fail(flow.AccountCreated, err))
		}
		res.Account = account
		t.Advance(flow.AccountCreated)
	}

	// Selection and submission run under the party lock so that a concurrent
	// orchestration cannot spend the same holdings.
	unlock, err := c.locker.Lock(ctx, req.Party)
	if err != nil {
		return done(t.Fail(flow.HoldingsSelected, err))
	}
	defer unlock()

	sel, err := c.holdings.Select(ctx, req.Party, c.instrumentID, req.Amount)
	if err != nil {
		return done(t.Fail(flow.HoldingsSelected, err))
	}
	res.Selection = sel
	t.Advance(flow.HoldingsSelected)

	disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindBurn)
	if err != nil {
		return done(t.Fail(flow.DisclosuresResolved, err))
	}
	t.Advance(flow.DisclosuresResolved)

	wr, updateID, err := c.submitWithdraw(ctx, req.Party, res.Account.ContractID, req.Amount, sel, disc, req.WithdrawCommandID)
	if err != nil {
		return done(t.Fail(flow.Submitted, err))
	}
	unlock()
	res.WithdrawRequest = wr
	res.UpdateID = updateID
	t.Advance(flow.Submitted)

	t.Advance(flow.AwaitingExternalProcessing)
	if !req.WaitForCompletion {
		return done(nil)
	}

	final, err := c.WatchCompletion(ctx, req.Party, wr).Wait()
	if err != nil {
		return done(t.Fail(flow.Completed, err))
	}
	res.WithdrawRequest = final
	res.BtcTxID = *final.BtcTxID
	t.Advance(flow.Completed)
	return done(nil)
}

func (c *Client) ListWithdrawAccounts(ctx context.Context, party string) ([]*WithdrawAccount, error) {
	return flow.Active(ctx, c.ledger, c.logger, party, TemplateWithdrawAccount,
		func(ac *ledger.ActiveContract) (*WithdrawAccount, error) {
			return decodeWithdrawAccount(ac.CreatedEvent)
		})
}

func (c *Client) findAccount(ctx context.Context, party, contractID string) (*WithdrawAccount, error) {
	accounts, err := c.ListWithdrawAccounts(ctx, party)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.ContractID == contractID {
			return a, nil
		}
	}
	return nil, sdkerrors.InvalidInputError(nil, fmt.Sprintf("withdraw account %s not found", contractID))
}

func (c *Client) CreateWithdrawAccount(ctx context.Context, party, destination, commandID string) (*WithdrawAccount, error) {
	if party == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party is required")
	}
	if err := btcaddr.Validate(destination, c.btcParams); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid destination address")
	}
	disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindWithdrawAccount)
	if err != nil {
		return nil, err
	}
	return c.createWithdrawAccount(ctx, party, destination, commandID, disc)
}

func (c *Client) createWithdrawAccount(
	ctx context.Context,
	party, destination, commandID string,
	disc *attestor.Disclosures,
) (*WithdrawAccount, error) {
	arg := map[string]string{"owner": party, "destinationBtcAddress": destination}
	req := command.Exercise(party, disc.Target.TemplateID, disc.Target.ContractID, ChoiceCreateWithdrawAccount, arg).
		WithDisclosed(disc.Contracts...).
		WithRoles(command.Role{Name: roleWithdrawAccount, TemplateID: TemplateWithdrawAccount}).
		WithCommandID(commandID)
	req.ReadAs = []string{party}

	result, err := c.submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	created := result.CreatedOf(TemplateWithdrawAccount)
	if len(created) == 0 {
		return nil, fmt.Errorf("no withdraw account created in update %s", result.UpdateID)
	}
	account, err := decodeWithdrawAccount(created[0])
	if err != nil {
		return nil, err
	}

	c.logger.Info("withdraw account created",
		zap.String("party", party),
		zap.String("contract_id", account.ContractID),
		zap.String("destination", destination),
	)
	return account, nil
}

func (c *Client) RequestWithdraw(ctx context.Context, args *WithdrawRequestArgs) (*WithdrawRequest, error) {
	if args == nil || args.Party == "" || args.AccountContractID == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party and withdraw account are required")
	}
	if err := values.CheckAmount(args.Amount); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid withdraw amount")
	}

	unlock, err := c.locker.Lock(ctx, args.Party)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sel, err := c.holdings.Select(ctx, args.Party, c.instrumentID, args.Amount)
	if err != nil {
		return nil, err
	}
	disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindBurn)
	if err != nil {
		return nil, err
	}
	wr, _, err := c.submitWithdraw(ctx, args.Party, args.AccountContractID, args.Amount, sel, disc, args.CommandID)
	return wr, err
}

func (c *Client) submitWithdraw(
	ctx context.Context,
	party, accountCID string,
	amount decimal.Decimal,
	sel *holding.Selection,
	disc *attestor.Disclosures,
	commandID string,
) (*WithdrawRequest, string, error) {
	arg := withdrawArgs{
		Tokens:             values.ContractIDs(sel.ContractIDs()),
		Amount:             values.Numeric(amount),
		BurnMintFactoryCid: disc.Target.ContractID,
		ExtraArgs:          values.EncodeExtraArgs(disc.Context, map[string]string{values.MetaKeyReason: WithdrawReason}),
	}

	req := command.Exercise(party, TemplateWithdrawAccount, accountCID, ChoiceWithdraw, arg).
		WithDisclosed(disc.Contracts...).
		WithRoles(command.Role{Name: roleWithdrawRequest, TemplateID: TemplateWithdrawRequest}).
		WithCommandID(commandID)
	req.ReadAs = []string{party}

	result, err := c.submitter.Submit(ctx, req)
	if err != nil {
		return nil, "", err
	}

	created := result.CreatedOf(TemplateWithdrawRequest)
	if len(created) == 0 {
		return nil, "", fmt.Errorf("no withdraw request created in update %s", result.UpdateID)
	}
	wr, err := decodeWithdrawRequest(created[0])
	if err != nil {
		return nil, "", err
	}

	c.logger.Info("withdraw submitted",
		zap.String("party", party),
		zap.String("withdraw_request", wr.ContractID),
		zap.String("amount", values.Numeric(amount)),
		zap.Int("holdings", len(sel.Selected)),
		zap.String("update_id", result.UpdateID),
	)
	return wr, result.UpdateID, nil
}

func (c *Client) ListWithdrawRequests(ctx context.Context, party string) ([]*WithdrawRequest, error) {
	return flow.Active(ctx, c.ledger, c.logger, party, TemplateWithdrawRequest,
		func(ac *ledger.ActiveContract) (*WithdrawRequest, error) {
			return decodeWithdrawRequest(ac.CreatedEvent)
		})
}

func (c *Client) WatchCompletion(ctx context.Context, party string, req *WithdrawRequest) *watch.Handle[*WithdrawRequest] {
	// Requests seen alongside the original cannot be its replacement.
	seen := make(map[string]bool)
	check := func(ctx context.Context) (*WithdrawRequest, bool, error) {
		reqs, err := c.ListWithdrawRequests(ctx, party)
		if err != nil {
			return nil, false, err
		}
		for _, r := range reqs {
			if r.ContractID == req.ContractID {
				for _, other := range reqs {
					seen[other.ContractID] = true
				}
				return r, r.Completed(), nil
			}
		}
		for _, r := range reqs {
			if !seen[r.ContractID] && r.Completed() && r.replaces(req) {
				return r, true, nil
			}
		}
		c.logger.Debug("withdraw request not visible", zap.String("contract_id", req.ContractID))
		return nil, false, nil
	}
	return watch.Start(ctx, c.poll, check, c.logger)
}
