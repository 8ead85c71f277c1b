package registry

import (
	"errors"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Splice token-standard identifiers.
const (
	TemplateTransferFactory     = "#splice-api-token-transfer-instruction-v1:Splice.Api.Token.TransferInstructionV1:TransferFactory"
	TemplateTransferInstruction = "#splice-api-token-transfer-instruction-v1:Splice.Api.Token.TransferInstructionV1:TransferInstruction"
	TemplateTransferOffer       = "#utility-registry-app-v0:Utility.Registry.App.V0.Model.Transfer:TransferOffer"

	ChoiceTransferFactoryTransfer = "TransferFactory_Transfer"
	ChoiceTransferAccept          = "TransferInstruction_Accept"
	ChoiceTransferReject          = "TransferInstruction_Reject"
	ChoiceTransferWithdraw        = "TransferInstruction_Withdraw"
)

// Decentralized party ids administering CBTC per network.
const (
	MainnetDecentralizedParty = "cbtc-network::12205af3b949a04776fc48cdcc05a060f6bda2e470632935f375d1049a8546a3b262"
	TestnetDecentralizedParty = "cbtc-network::12201b1741b63e2494e4214cf0bedc3d5a224da53b3bf4d76dba468f8e97eb15508f"
	DevnetDecentralizedParty  = "cbtc-network::12202a83c6f4082217c175e29bc53da5f2703ba2675778ab99217a5a881a949203ff"
)

const defaultTimeout = 15 * time.Second

// Config contains the configuration required to reach the token registry.
type Config struct {
	URL string
	// DecentralizedParty is the instrument admin (registrar) party.
	DecentralizedParty string
	Timeout            time.Duration
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.URL == "" {
		return errors.New("registry url is required")
	}
	if c.DecentralizedParty == "" {
		return errors.New("decentralized party is required")
	}
	return nil
}

// Option configures the registry client.
type Option func(*settings)

type settings struct {
	logger     *zap.Logger
	httpClient httpClient
}

// WithLogger sets a custom logger for the registry client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c httpClient) Option {
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

// Transfer is the Splice Transfer record.
type Transfer struct {
	Sender           string              `json:"sender"`
	Receiver         string              `json:"receiver"`
	Amount           decimal.Decimal     `json:"amount"`
	InstrumentID     values.InstrumentID `json:"instrumentId"`
	RequestedAt      time.Time           `json:"requestedAt"`
	ExecuteBefore    time.Time           `json:"executeBefore"`
	InputHoldingCIDs []string            `json:"inputHoldingCids"`
	Meta             values.Metadata     `json:"meta"`
}

// TransferFactoryArgs are the arguments of TransferFactory_Transfer.
type TransferFactoryArgs struct {
	ExpectedAdmin string           `json:"expectedAdmin"`
	Transfer      Transfer         `json:"transfer"`
	ExtraArgs     values.ExtraArgs `json:"extraArgs"`
}

// ChoiceContext is what the registry returns for a choice: context entries
// plus the contracts that must be disclosed with the command.
type ChoiceContext struct {
	ChoiceContextData  values.ChoiceContext       `json:"choiceContextData"`
	DisclosedContracts []ledger.DisclosedContract `json:"disclosedContracts"`
}

// TransferFactory is the registry's answer to a transfer-factory lookup.
type TransferFactory struct {
	FactoryID     string        `json:"factoryId"`
	TransferKind  string        `json:"transferKind"`
	ChoiceContext ChoiceContext `json:"choiceContext"`
}
