package redeem

import (
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/flow"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/partylock"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TemplateWithdrawAccount      = "#cbtc:CBTC.WithdrawAccount:CBTCWithdrawAccount"
	TemplateWithdrawAccountRules = "#cbtc:CBTC.WithdrawAccountRules:CBTCWithdrawAccountRules"
	TemplateWithdrawRequest      = "#cbtc:CBTC.WithdrawRequest:CBTCWithdrawRequest"

	ChoiceCreateWithdrawAccount = "CBTCWithdrawAccountRules_CreateWithdrawAccount"
	ChoiceWithdraw              = "CBTCWithdrawAccount_Withdraw"

	// WithdrawReason is recorded in the burn metadata.
	WithdrawReason = "CBTC withdrawal"

	roleWithdrawAccount = "withdraw_account"
	roleWithdrawRequest = "withdraw_request"
	flowName            = "burn"
)

// Option configures the redeem client.
type Option func(*settings)

type settings struct {
	logger         *zap.Logger
	resolver       attestor.Resolver
	locker         *partylock.Locker
	poll           watch.Config
	instrumentID   string
	bitcoinNetwork string
}

// WithLogger sets a custom logger for the redeem client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithResolver overrides the disclosure resolver.
func WithResolver(r attestor.Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithLocker shares a party lock with other orchestrators that spend
// holdings of the same parties.
func WithLocker(l *partylock.Locker) Option {
	return func(s *settings) { s.locker = l }
}

// WithPollConfig sets the interval and timeout of completion polling.
func WithPollConfig(cfg watch.Config) Option {
	return func(s *settings) { s.poll = cfg }
}

// WithInstrumentID sets the instrument burned. Defaults to CBTC.
func WithInstrumentID(id string) Option {
	return func(s *settings) { s.instrumentID = id }
}

// WithBitcoinNetwork sets the network destination addresses are checked
// against. By default it is derived from the attestor chain.
func WithBitcoinNetwork(network string) Option {
	return func(s *settings) { s.bitcoinNetwork = network }
}

func applyOptions(opts []Option) settings {
	s := settings{logger: zap.NewNop(), instrumentID: holding.DefaultInstrumentID}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// WithdrawAccount is a CBTCWithdrawAccount contract. Its destination
// address is fixed at creation.
type WithdrawAccount struct {
	ContractID            string
	TemplateID            string
	Owner                 string
	Operator              string
	Registrar             string
	DestinationBtcAddress string
	PendingBalance        decimal.Decimal
}

// WithdrawRequest is a CBTCWithdrawRequest. BtcTxID stays nil until the
// attestors have broadcast the BTC payout.
type WithdrawRequest struct {
	ContractID            string
	Owner                 string
	Registrar             string
	Amount                decimal.Decimal
	DestinationBtcAddress string
	BtcTxID               *string
	SourceAccountID       string
}

// Completed reports whether the payout transaction id is known.
func (r *WithdrawRequest) Completed() bool {
	return r != nil && r.BtcTxID != nil && *r.BtcTxID != ""
}

func (r *WithdrawRequest) replaces(orig *WithdrawRequest) bool {
	return r.Owner == orig.Owner &&
		r.SourceAccountID == orig.SourceAccountID &&
		r.DestinationBtcAddress == orig.DestinationBtcAddress &&
		r.Amount.Equal(orig.Amount)
}

// WithdrawRequestArgs burns holdings from an existing withdraw account.
type WithdrawRequestArgs struct {
	Party             string
	AccountContractID string
	Amount            decimal.Decimal
	CommandID         string
}

// Request starts a burn.
type Request struct {
	Party  string
	Amount decimal.Decimal
	// DestinationBtcAddress is used when a new withdraw account is created.
	DestinationBtcAddress string
	// ExistingAccountID resumes with a withdraw account (contract id) from an
	// earlier run, skipping account creation.
	ExistingAccountID string
	// AccountCommandID and WithdrawCommandID make the two submissions
	// idempotent across retries of the same run. Optional.
	AccountCommandID  string
	WithdrawCommandID string
	// WaitForCompletion keeps the run polling until BtcTxID is set.
	WaitForCompletion bool
}

func (r *Request) validate() error {
	if r == nil || r.Party == "" {
		return fmt.Errorf("party is required")
	}
	if err := values.CheckAmount(r.Amount); err != nil {
		return err
	}
	if r.ExistingAccountID == "" && r.DestinationBtcAddress == "" {
		return fmt.Errorf("destination btc address or existing account id is required")
	}
	return nil
}

// Result is the outcome of a burn run, partial when an error is returned.
type Result struct {
	State           flow.State
	History         []flow.State
	Account         *WithdrawAccount
	Selection       *holding.Selection
	WithdrawRequest *WithdrawRequest
	UpdateID        string
	BtcTxID         string
}

type withdrawAccountFields struct {
	Owner                 string  `json:"owner"`
	Operator              string  `json:"operator"`
	Registrar             string  `json:"registrar"`
	DestinationBtcAddress string  `json:"destinationBtcAddress"`
	PendingBalance        *string `json:"pendingBalance"`
}

func decodeWithdrawAccount(ce *ledger.CreatedEvent) (*WithdrawAccount, error) {
	f, err := values.Decode[withdrawAccountFields](ce.CreateArgument)
	if err != nil {
		return nil, fmt.Errorf("withdraw account %s: %w", ce.ContractID, err)
	}
	if f.Owner == "" || f.DestinationBtcAddress == "" {
		return nil, fmt.Errorf("withdraw account %s: missing owner or destination", ce.ContractID)
	}

	pending := decimal.Zero
	if f.PendingBalance != nil {
		if pending, err = values.ParseNumeric(*f.PendingBalance); err != nil {
			return nil, fmt.Errorf("withdraw account %s: %w", ce.ContractID, err)
		}
	}

	return &WithdrawAccount{
		ContractID:            ce.ContractID,
		TemplateID:            ce.TemplateID,
		Owner:                 f.Owner,
		Operator:              f.Operator,
		Registrar:             f.Registrar,
		DestinationBtcAddress: f.DestinationBtcAddress,
		PendingBalance:        pending,
	}, nil
}

type withdrawRequestFields struct {
	Owner                 string  `json:"owner"`
	Registrar             string  `json:"registrar"`
	Amount                string  `json:"amount"`
	DestinationBtcAddress string  `json:"destinationBtcAddress"`
	BtcTxID               *string `json:"btcTxId"`
	SourceAccountID       *string `json:"sourceAccountId"`
}

func decodeWithdrawRequest(ce *ledger.CreatedEvent) (*WithdrawRequest, error) {
	f, err := values.Decode[withdrawRequestFields](ce.CreateArgument)
	if err != nil {
		return nil, fmt.Errorf("withdraw request %s: %w", ce.ContractID, err)
	}
	amount, err := values.ParseNumeric(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("withdraw request %s: %w", ce.ContractID, err)
	}

	var txID *string
	if f.BtcTxID != nil && *f.BtcTxID != "" {
		txID = f.BtcTxID
	}

	return &WithdrawRequest{
		ContractID:            ce.ContractID,
		Owner:                 f.Owner,
		Registrar:             f.Registrar,
		Amount:                amount,
		DestinationBtcAddress: f.DestinationBtcAddress,
		BtcTxID:               txID,
		SourceAccountID:       values.OptionalText(f.SourceAccountID),
	}, nil
}

// withdrawArgs is the CBTCWithdrawAccount_Withdraw argument.
type withdrawArgs struct {
	Tokens             []string         `json:"tokens"`
	Amount             string           `json:"amount"`
	BurnMintFactoryCid string           `json:"burnMintFactoryCid"`
	ExtraArgs          values.ExtraArgs `json:"extraArgs"`
}
