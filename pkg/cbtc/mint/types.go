package mint

import (
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/flow"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/watch"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TemplateDepositAccount      = "#cbtc:CBTC.DepositAccount:CBTCDepositAccount"
	TemplateDepositAccountRules = "#cbtc:CBTC.DepositAccountRules:CBTCDepositAccountRules"
	TemplateDepositRequest      = "#cbtc:CBTC.DepositRequest:CBTCDepositRequest"

	ChoiceCreateDepositAccount = "CBTCDepositAccountRules_CreateDepositAccount"

	roleDepositAccount = "deposit_account"
	flowName           = "mint"
)

// Option configures the mint client.
type Option func(*settings)

type settings struct {
	logger   *zap.Logger
	resolver attestor.Resolver
	poll     watch.Config
}

// WithLogger sets a custom logger for the mint client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithResolver overrides the disclosure resolver.
func WithResolver(r attestor.Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithPollConfig sets the interval and timeout used by WatchDeposits.
func WithPollConfig(cfg watch.Config) Option {
	return func(s *settings) { s.poll = cfg }
}

func applyOptions(opts []Option) settings {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// DepositAccount is a CBTCDepositAccount contract.
type DepositAccount struct {
	ContractID                string
	TemplateID                string
	ID                        string
	Owner                     string
	Operator                  string
	Registrar                 string
	LastProcessedBitcoinBlock int64
}

// AccountID is the id the attestor knows the account by. Older accounts
// carry no id field and are known by contract id.
func (a *DepositAccount) AccountID() string {
	if a.ID != "" {
		return a.ID
	}
	return a.ContractID
}

// DepositRequest is a CBTCDepositRequest, created by the attestors once a
// BTC deposit to the account address is confirmed.
type DepositRequest struct {
	ContractID       string
	DepositAccountID string
	Amount           decimal.Decimal
	BtcTxID          string
}

// AccountStatus combines an account with its deposit address.
type AccountStatus struct {
	Account        *DepositAccount
	BitcoinAddress string
}

// Request starts a mint.
type Request struct {
	Party string
	// ExistingAccountID resumes with an account created by an earlier run
	// (contract id), skipping account creation.
	ExistingAccountID string
	// CommandID makes account creation idempotent across retries of the
	// same run. Optional.
	CommandID string
}

func (r *Request) validate() error {
	if r == nil || r.Party == "" {
		return fmt.Errorf("party is required")
	}
	return nil
}

// Result is the outcome of a mint run, partial when an error is returned.
type Result struct {
	State          flow.State
	History        []flow.State
	Account        *DepositAccount
	BitcoinAddress string
	UpdateID       string
}

type depositAccountFields struct {
	ID                        *string      `json:"id"`
	Owner                     string       `json:"owner"`
	Operator                  string       `json:"operator"`
	Registrar                 string       `json:"registrar"`
	LastProcessedBitcoinBlock values.Int64 `json:"lastProcessedBitcoinBlock"`
}

func decodeDepositAccount(ce *ledger.CreatedEvent) (*DepositAccount, error) {
	f, err := values.Decode[depositAccountFields](ce.CreateArgument)
	if err != nil {
		return nil, fmt.Errorf("deposit account %s: %w", ce.ContractID, err)
	}
	if f.Owner == "" {
		return nil, fmt.Errorf("deposit account %s: missing owner", ce.ContractID)
	}
	return &DepositAccount{
		ContractID:                ce.ContractID,
		TemplateID:                ce.TemplateID,
		ID:                        values.OptionalText(f.ID),
		Owner:                     f.Owner,
		Operator:                  f.Operator,
		Registrar:                 f.Registrar,
		LastProcessedBitcoinBlock: int64(f.LastProcessedBitcoinBlock),
	}, nil
}

type depositRequestFields struct {
	DepositAccountID string  `json:"depositAccountId"`
	Amount           string  `json:"amount"`
	BtcTxID          *string `json:"btcTxId"`
}

func decodeDepositRequest(ac *ledger.ActiveContract) (*DepositRequest, error) {
	ce := ac.CreatedEvent
	f, err := values.Decode[depositRequestFields](ce.CreateArgument)
	if err != nil {
		return nil, fmt.Errorf("deposit request %s: %w", ce.ContractID, err)
	}
	amount, err := values.ParseNumeric(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("deposit request %s: %w", ce.ContractID, err)
	}
	return &DepositRequest{
		ContractID:       ce.ContractID,
		DepositAccountID: f.DepositAccountID,
		Amount:           amount,
		BtcTxID:          values.OptionalText(f.BtcTxID),
	}, nil
}
