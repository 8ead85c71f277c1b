// Package mint implements the BTC to CBTC workflow: open a deposit account,
// obtain its Bitcoin deposit address, and observe the deposit requests the
// attestor network creates once BTC arrives.
package mint

import (
	"context"
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/flow"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"go.uber.org/zap"
)

// Minter defines the mint workflow operations.
type Minter interface {
	// Run drives the workflow up to AwaitingExternalConfirmation.
	Run(ctx context.Context, req *Request) (*Result, error)

	// ListDepositAccounts returns the deposit accounts owned by party.
	ListDepositAccounts(ctx context.Context, party string) ([]*DepositAccount, error)

	// CreateDepositAccount opens a new deposit account for party.
	CreateDepositAccount(ctx context.Context, party, commandID string) (*DepositAccount, error)

	// BitcoinAddress returns the BTC deposit address of account.
	BitcoinAddress(ctx context.Context, account *DepositAccount) (string, error)

	// AccountStatus returns an account of party together with its address.
	AccountStatus(ctx context.Context, party, accountContractID string) (*AccountStatus, error)

	// ListDepositRequests returns the deposit requests visible to party.
	ListDepositRequests(ctx context.Context, party string) ([]*DepositRequest, error)

	// WatchDeposits polls until a deposit request for accountID appears that
	// was not present when the watch started.
	WatchDeposits(ctx context.Context, party, accountID string) *watch.Handle[[]*DepositRequest]
}

// Client implements Minter.
type Client struct {
	ledger    ledger.Ledger
	attestor  attestor.Attestor
	resolver  attestor.Resolver
	submitter command.Submitter
	poll      watch.Config
	logger    *zap.Logger
}

// New creates a new mint client.
func New(l ledger.Ledger, a attestor.Attestor, sub command.Submitter, opts ...Option) (*Client, error) {
	if l == nil {
		return nil, fmt.Errorf("nil ledger client")
	}
	if a == nil {
		return nil, fmt.Errorf("nil attestor client")
	}
	if sub == nil {
		return nil, fmt.Errorf("nil submitter")
	}

	s := applyOptions(opts)
	resolver := s.resolver
	if resolver == nil {
		resolver = attestor.NewResolver(a)
	}
	if s.poll.Name == "" {
		s.poll.Name = "deposit"
	}

	return &Client{
		ledger:    l,
		attestor:  a,
		resolver:  resolver,
		submitter: sub,
		poll:      s.poll,
		logger:    s.logger,
	}, nil
}

func (c *Client) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid mint request")
	}

	t := flow.NewTracker(flowName, c.logger.With(zap.String("party", req.Party)))
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
		disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindDepositAccount)
		if err != nil {
			return done(t.Fail(flow.RulesFetched, err))
		}
		t.Advance(flow.RulesFetched)

		account, updateID, err := c.createDepositAccount(ctx, req.Party, req.CommandID, disc)
		if err != nil {
			return done(t.Fail(flow.AccountCreated, err))
		}
		res.Account = account
		res.UpdateID = updateID
		t.Advance(flow.AccountCreated)
	}

	addr, err := c.BitcoinAddress(ctx, res.Account)
	if err != nil {
		return done(t.Fail(flow.AddressRetrieved, err))
	}
	res.BitcoinAddress = addr
	t.Advance(flow.AddressRetrieved)

	t.Advance(flow.AwaitingExternalConfirmation)
	return done(nil)
}

func (c *Client) ListDepositAccounts(ctx context.Context, party string) ([]*DepositAccount, error) {
	return flow.Active(ctx, c.ledger, c.logger, party, TemplateDepositAccount,
		func(ac *ledger.ActiveContract) (*DepositAccount, error) {
			return decodeDepositAccount(ac.CreatedEvent)
		})
}

func (c *Client) CreateDepositAccount(ctx context.Context, party, commandID string) (*DepositAccount, error) {
	disc, err := c.resolver.ResolveDisclosures(ctx, attestor.KindDepositAccount)
	if err != nil {
		return nil, err
	}
	account, _, err := c.createDepositAccount(ctx, party, commandID, disc)
	return account, err
}

func (c *Client) createDepositAccount(
	ctx context.Context,
	party, commandID string,
	disc *attestor.Disclosures,
) (*DepositAccount, string, error) {
	req := command.Exercise(party, disc.Target.TemplateID, disc.Target.ContractID, ChoiceCreateDepositAccount,
		map[string]string{"owner": party}).
		WithDisclosed(disc.Contracts...).
		WithRoles(command.Role{Name: roleDepositAccount, TemplateID: TemplateDepositAccount}).
		WithCommandID(commandID)
	req.ReadAs = []string{party}

	result, err := c.submitter.Submit(ctx, req)
	if err != nil {
		return nil, "", err
	}

	created := result.CreatedOf(TemplateDepositAccount)
	if len(created) == 0 {
		return nil, "", fmt.Errorf("no deposit account created in update %s", result.UpdateID)
	}
	account, err := decodeDepositAccount(created[0])
	if err != nil {
		return nil, "", err
	}

	c.logger.Info("deposit account created",
		zap.String("party", party),
		zap.String("contract_id", account.ContractID),
		zap.String("update_id", result.UpdateID),
	)
	return account, result.UpdateID, nil
}

func (c *Client) BitcoinAddress(ctx context.Context, account *DepositAccount) (string, error) {
	if account == nil {
		return "", sdkerrors.InvalidInputError(nil, "deposit account is required")
	}
	return c.attestor.BitcoinAddress(ctx, account.AccountID())
}

func (c *Client) AccountStatus(ctx context.Context, party, accountContractID string) (*AccountStatus, error) {
	account, err := c.findAccount(ctx, party, accountContractID)
	if err != nil {
		return nil, err
	}
	addr, err := c.BitcoinAddress(ctx, account)
	if err != nil {
		return nil, err
	}
	return &AccountStatus{Account: account, BitcoinAddress: addr}, nil
}

func (c *Client) findAccount(ctx context.Context, party, contractID string) (*DepositAccount, error) {
	accounts, err := c.ListDepositAccounts(ctx, party)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.ContractID == contractID {
			return a, nil
		}
	}
	return nil, sdkerrors.InvalidInputError(nil, fmt.Sprintf("deposit account %s not found", contractID))
}

func (c *Client) ListDepositRequests(ctx context.Context, party string) ([]*DepositRequest, error) {
	return flow.Active(ctx, c.ledger, c.logger, party, TemplateDepositRequest, decodeDepositRequest)
}

func (c *Client) WatchDeposits(ctx context.Context, party, accountID string) *watch.Handle[[]*DepositRequest] {
	var seen map[string]bool

	check := func(ctx context.Context) ([]*DepositRequest, bool, error) {
		reqs, err := c.ListDepositRequests(ctx, party)
		if err != nil {
			return nil, false, err
		}

		var fresh []*DepositRequest
		first := seen == nil
		if first {
			seen = make(map[string]bool, len(reqs))
		}
		for _, r := range reqs {
			if accountID != "" && r.DepositAccountID != accountID {
				continue
			}
			if !seen[r.ContractID] && !first {
				fresh = append(fresh, r)
			}
			seen[r.ContractID] = true
		}
		return fresh, len(fresh) > 0, nil
	}

	return watch.Start(ctx, c.poll, check, c.logger)
}
