package transfer

import (
	"fmt"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/partylock"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultExecuteWindow is how long a receiver has to accept a transfer.
	DefaultExecuteWindow = 168 * time.Hour
	// mergeSplitWindow bounds self-transfers, which settle immediately.
	mergeSplitWindow = 5 * time.Hour

	// AcceptChunkSize is the number of accepts submitted per transaction.
	AcceptChunkSize = 5

	reasonConsolidation = "UTXO consolidation"
	reasonSplit         = "merge-split"
)

// Option configures the transfer client.
type Option func(*settings)

type settings struct {
	logger        *zap.Logger
	locker        *partylock.Locker
	instrumentID  string
	executeWindow time.Duration
	now           func() time.Time
}

// WithLogger sets a custom logger for the transfer client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithLocker shares a party lock with other orchestrators.
func WithLocker(l *partylock.Locker) Option {
	return func(s *settings) { s.locker = l }
}

// WithInstrumentID sets the instrument transferred. Defaults to CBTC.
func WithInstrumentID(id string) Option {
	return func(s *settings) { s.instrumentID = id }
}

// WithExecuteWindow sets the acceptance window of outgoing transfers.
func WithExecuteWindow(d time.Duration) Option {
	return func(s *settings) { s.executeWindow = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func applyOptions(opts []Option) settings {
	s := settings{
		logger:        zap.NewNop(),
		instrumentID:  holding.DefaultInstrumentID,
		executeWindow: DefaultExecuteWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// SendRequest is one transfer from Sender to Receiver.
type SendRequest struct {
	Sender   string
	Receiver string
	Amount   decimal.Decimal
	// Reference is stored in the transfer metadata. Optional.
	Reference string
	// Reason is stored in the transfer metadata. Optional.
	Reason string
	// CommandID makes the submission idempotent. Optional.
	CommandID string
}

func (r *SendRequest) validate() error {
	if r == nil {
		return fmt.Errorf("nil request")
	}
	if r.Sender == "" || r.Receiver == "" {
		return fmt.Errorf("sender and receiver are required")
	}
	if err := values.CheckAmount(r.Amount); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of one transfer. It is not modified after it is
// built.
type Result struct {
	Success  bool
	Index    int
	Receiver string
	Amount   decimal.Decimal
	// ContractID is the transfer instruction created for the receiver.
	ContractID  *string
	UpdateID    *string
	Reference   *string
	RawResponse *string
	Error       *string
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ContractID = cloneString(r.ContractID)
	cp.UpdateID = cloneString(r.UpdateID)
	cp.Reference = cloneString(r.Reference)
	cp.RawResponse = cloneString(r.RawResponse)
	cp.Error = cloneString(r.Error)
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Outcome is the interpreted result of a TransferFactory_Transfer exercise.
type Outcome struct {
	UpdateID            string
	InstructionCID      string
	SenderChangeCIDs    []string
	ReceiverHoldingCIDs []string
	Raw                 string
}

// Result converts the outcome of req into the Result at index.
func (o *Outcome) Result(index int, req *SendRequest) *Result {
	res := &Result{
		Success:     true,
		Index:       index,
		Receiver:    req.Receiver,
		Amount:      req.Amount,
		UpdateID:    optional(o.UpdateID),
		ContractID:  optional(o.InstructionCID),
		Reference:   optional(req.Reference),
		RawResponse: optional(o.Raw),
	}
	return res
}

// FailedResult builds the Result for a transfer that did not commit.
func FailedResult(index int, req *SendRequest, err error) *Result {
	msg := err.Error()
	return &Result{
		Index:     index,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Reference: optional(req.Reference),
		Error:     &msg,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Offer is a pending TransferOffer awaiting the receiver.
type Offer struct {
	ContractID   string
	Sender       string
	Receiver     string
	Amount       decimal.Decimal
	InstrumentID values.InstrumentID
	Reference    string
	Reason       string
}

// AcceptResult is the outcome of accepting one offer.
type AcceptResult struct {
	Success    bool
	ContractID string
	Amount     decimal.Decimal
	Sender     string
	UpdateID   string
	Error      string
}

// AcceptAllResult aggregates AcceptAll.
type AcceptAllResult struct {
	Results         []AcceptResult
	SuccessfulCount int
	FailedCount     int
}

// ConsolidateResult reports a consolidation.
type ConsolidateResult struct {
	Consolidated bool
	HoldingCIDs  []string
	Before       int
	After        int
	UpdateID     string
}

// SplitResult reports a split.
type SplitResult struct {
	OutputHoldingCIDs []string
	ChangeHoldingCIDs []string
}

type offerFields struct {
	Transfer struct {
		Sender       string              `json:"sender"`
		Receiver     string              `json:"receiver"`
		Amount       string              `json:"amount"`
		InstrumentID values.InstrumentID `json:"instrumentId"`
		Meta         *values.Metadata    `json:"meta"`
	} `json:"transfer"`
}

func decodeOffer(ac *ledger.ActiveContract) (*Offer, error) {
	ce := ac.CreatedEvent
	f, err := values.Decode[offerFields](ce.CreateArgument)
	if err != nil {
		return nil, fmt.Errorf("transfer offer %s: %w", ce.ContractID, err)
	}
	amount, err := values.ParseNumeric(f.Transfer.Amount)
	if err != nil {
		return nil, fmt.Errorf("transfer offer %s: %w", ce.ContractID, err)
	}

	o := &Offer{
		ContractID:   ce.ContractID,
		Sender:       f.Transfer.Sender,
		Receiver:     f.Transfer.Receiver,
		Amount:       amount,
		InstrumentID: f.Transfer.InstrumentID,
	}
	if f.Transfer.Meta != nil {
		o.Reference = f.Transfer.Meta.Values[values.MetaKeyReference]
		o.Reason = f.Transfer.Meta.Values[values.MetaKeyReason]
	}
	return o, nil
}

// factoryResult is the exercise result of TransferFactory_Transfer.
type factoryResult struct {
	SenderChangeCids []string `json:"senderChangeCids"`
	Output           struct {
		Tag   string `json:"tag"`
		Value struct {
			TransferInstructionCid string   `json:"transferInstructionCid"`
			ReceiverHoldingCids    []string `json:"receiverHoldingCids"`
		} `json:"value"`
	} `json:"output"`
}

// choiceArgs is the argument of the transfer instruction choices.
type choiceArgs struct {
	ExtraArgs values.ExtraArgs `json:"extraArgs"`
}
