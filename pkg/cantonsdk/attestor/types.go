package attestor

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"go.uber.org/zap"
)

// Choice-context keys understood by the CBTC burn-mint factory.
const (
	ContextKeyInstrumentConfiguration = "utility.digitalasset.com/instrument-configuration"
	ContextKeyIssuerCredentials       = "utility.digitalasset.com/issuer-credentials"
	ContextKeyAppRewardConfiguration  = "utility.digitalasset.com/app-reward-configuration"
	ContextKeyFeaturedAppRight        = "utility.digitalasset.com/featured-app-right"
)

const defaultTimeout = 15 * time.Second

// Config contains the configuration required to reach the attestor network.
type Config struct {
	URL   string
	Chain string
	// BitcoinNetwork is used to validate returned deposit addresses.
	// When empty it is derived from Chain.
	BitcoinNetwork string
	Timeout        time.Duration
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.URL == "" {
		return errors.New("attestor url is required")
	}
	if c.Chain == "" {
		return errors.New("chain is required")
	}
	return nil
}

// Option configures the attestor client.
type Option func(*settings)

type settings struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// WithLogger sets a custom logger for the attestor client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
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

// ContractInfo is reference data published by the attestor network.
type ContractInfo struct {
	ContractID       string `json:"contract_id"`
	TemplateID       string `json:"template_id"`
	CreatedEventBlob string `json:"created_event_blob"`
}

// Disclosed converts the reference into a disclosed contract.
func (c ContractInfo) Disclosed() ledger.DisclosedContract {
	return ledger.DisclosedContract{
		TemplateID:       c.TemplateID,
		ContractID:       c.ContractID,
		CreatedEventBlob: c.CreatedEventBlob,
	}
}

// Optional is a slot that the attestor may leave empty.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// None returns an absent Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// Present reports whether the slot is filled.
func (o Optional[T]) Present() bool { return o.ok }

// UnmarshalJSON treats null and a missing field as absent.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// MarshalJSON renders absent values as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// AccountRules holds the singleton rules contracts used to open accounts.
type AccountRules struct {
	DepositRules  ContractInfo `json:"da_rules"`
	WithdrawRules ContractInfo `json:"wa_rules"`
}

// TokenStandardContracts holds the reference contracts a burn needs.
type TokenStandardContracts struct {
	BurnMintFactory         ContractInfo           `json:"burn_mint_factory"`
	InstrumentConfiguration ContractInfo           `json:"instrument_configuration"`
	IssuerCredential        Optional[ContractInfo] `json:"issuer_credential"`
	AppRewardConfiguration  Optional[ContractInfo] `json:"app_reward_configuration"`
	FeaturedAppRight        Optional[ContractInfo] `json:"featured_app_right"`
}

func (t *TokenStandardContracts) validate() error {
	if t.BurnMintFactory.ContractID == "" {
		return errors.New("burn_mint_factory missing")
	}
	if t.InstrumentConfiguration.ContractID == "" {
		return errors.New("instrument_configuration missing")
	}
	return nil
}

// Kind names the operation disclosures are resolved for.
type Kind int

const (
	KindDepositAccount Kind = iota + 1
	KindWithdrawAccount
	KindBurn
)

func (k Kind) String() string {
	switch k {
	case KindDepositAccount:
		return "deposit_account"
	case KindWithdrawAccount:
		return "withdraw_account"
	case KindBurn:
		return "burn"
	default:
		return "unknown"
	}
}
