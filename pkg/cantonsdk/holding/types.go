package holding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// InterfaceHolding is the Splice token-standard holding interface.
	InterfaceHolding = "#splice-api-token-holding-v1:Splice.Api.Token.HoldingV1:Holding"
	// TemplateHolding is the registry holding template backing CBTC.
	TemplateHolding = "#utility-registry-holding-v0:Utility.Registry.Holding.V0.Holding:Holding"

	// DefaultInstrumentID is the CBTC instrument.
	DefaultInstrumentID = "CBTC"
)

// QueryMode selects how holdings are discovered on the ledger.
type QueryMode string

const (
	// QueryByTemplate filters on the concrete holding template.
	QueryByTemplate QueryMode = "template"
	// QueryByInterface filters on the Splice holding interface and reads its view.
	QueryByInterface QueryMode = "interface"
)

// Config contains the configuration required to query holdings.
type Config struct {
	Mode        QueryMode
	TemplateID  string
	InterfaceID string
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = QueryByInterface
	}
	if c.TemplateID == "" {
		c.TemplateID = TemplateHolding
	}
	if c.InterfaceID == "" {
		c.InterfaceID = InterfaceHolding
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case QueryByTemplate, QueryByInterface:
		return nil
	default:
		return fmt.Errorf("unknown holding query mode %q", c.Mode)
	}
}

func (c *Config) filter() ledger.Filter {
	if c.Mode == QueryByTemplate {
		return ledger.TemplateFilter(c.TemplateID)
	}
	return ledger.InterfaceFilter(c.InterfaceID)
}

// Option configures the holding client.
type Option func(*settings)

type settings struct {
	logger *zap.Logger
}

// WithLogger sets a custom logger for the holding client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
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

// Holding is a single unit of token ownership.
type Holding struct {
	ContractID       string
	TemplateID       string
	Owner            string
	InstrumentAdmin  string
	InstrumentID     string
	Amount           decimal.Decimal
	Locked           bool
	CreatedEventBlob string
	SynchronizerID   string
}

// Disclosed returns h as a disclosed contract.
func (h Holding) Disclosed() ledger.DisclosedContract {
	return ledger.DisclosedContract{
		TemplateID:       h.TemplateID,
		ContractID:       h.ContractID,
		CreatedEventBlob: h.CreatedEventBlob,
		SynchronizerID:   h.SynchronizerID,
	}
}

// Selection is the result of covering a target amount with holdings.
type Selection struct {
	Selected []Holding
	Total    decimal.Decimal
	Target   decimal.Decimal
	// Change is Total - Target, never negative.
	Change decimal.Decimal
}

// ContractIDs lists the selected holding ids in selection order.
func (s *Selection) ContractIDs() []string {
	out := make([]string, 0, len(s.Selected))
	for _, h := range s.Selected {
		out = append(out, h.ContractID)
	}
	return out
}

// Instrument returns the instrument of the selected holdings.
func (s *Selection) Instrument() values.InstrumentID {
	if len(s.Selected) == 0 {
		return values.InstrumentID{}
	}
	return values.InstrumentID{Admin: s.Selected[0].InstrumentAdmin, ID: s.Selected[0].InstrumentID}
}

// Balance summarizes the unlocked holdings of a party.
type Balance struct {
	Party        string
	InstrumentID string
	Total        decimal.Decimal
	Holdings     int
	Locked       int
}

type instrumentField struct {
	Admin string `json:"admin"`
	ID    string `json:"id"`
}

type holdingFields struct {
	Owner        string           `json:"owner"`
	Amount       string           `json:"amount"`
	InstrumentID *instrumentField `json:"instrumentId"`
	Instrument   *instrumentField `json:"instrument"`
	Lock         json.RawMessage  `json:"lock"`
}

func isLocked(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// Decode builds a Holding from an active contract, reading the interface
// view when present and the create argument otherwise.
func Decode(ac *ledger.ActiveContract, interfaceID string) (Holding, error) {
	if ac == nil || ac.CreatedEvent == nil {
		return Holding{}, errors.New("nil contract")
	}
	ce := ac.CreatedEvent

	raw := ce.View(interfaceID)
	if raw == nil {
		raw = ce.CreateArgument
	}
	f, err := values.Decode[holdingFields](raw)
	if err != nil {
		return Holding{}, fmt.Errorf("holding %s: %w", ce.ContractID, err)
	}

	inst := f.InstrumentID
	if inst == nil {
		inst = f.Instrument
	}
	if inst == nil {
		return Holding{}, fmt.Errorf("holding %s: missing instrument", ce.ContractID)
	}

	amount, err := values.ParseNumeric(f.Amount)
	if err != nil {
		return Holding{}, fmt.Errorf("holding %s: %w", ce.ContractID, err)
	}

	return Holding{
		ContractID:       ce.ContractID,
		TemplateID:       ce.TemplateID,
		Owner:            f.Owner,
		InstrumentAdmin:  inst.Admin,
		InstrumentID:     inst.ID,
		Amount:           amount,
		Locked:           isLocked(f.Lock),
		CreatedEventBlob: ce.CreatedEventBlob,
		SynchronizerID:   ac.SynchronizerID,
	}, nil
}
