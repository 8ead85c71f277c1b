// Package transfer implements CBTC token-standard transfers: sending,
// accepting and withdrawing transfer offers, and merge-split self-transfers
// that consolidate or split holdings.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainsafe/canton-cbtc/internal/metrics"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/flow"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/partylock"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transferrer defines the transfer operations.
type Transferrer interface {
	// Send selects holdings of the sender and creates a transfer offer.
	Send(ctx context.Context, req *SendRequest) (*Result, error)

	// Accept accepts one incoming offer as party.
	Accept(ctx context.Context, party, offerCID string) (*AcceptResult, error)

	// AcceptAll accepts every incoming offer of party.
	AcceptAll(ctx context.Context, party string) (*AcceptAllResult, error)

	// ListIncoming returns pending offers where party is the receiver.
	ListIncoming(ctx context.Context, party string) ([]*Offer, error)

	// ListOutgoing returns pending offers where party is the sender.
	ListOutgoing(ctx context.Context, party string) ([]*Offer, error)

	// WithdrawOffer cancels an outgoing offer and returns the funds.
	WithdrawOffer(ctx context.Context, party, offerCID string) (string, error)

	// Consolidate merges the holdings of party into one once their number
	// reaches threshold.
	Consolidate(ctx context.Context, party string, threshold int) (*ConsolidateResult, error)

	// Split carves amounts out of the holdings of party, one holding each.
	Split(ctx context.Context, party string, amounts []decimal.Decimal) (*SplitResult, error)
}

// Client implements Transferrer.
type Client struct {
	ledger    ledger.Ledger
	holdings  holding.Holdings
	registry  registry.Registry
	submitter command.Submitter
	locker    *partylock.Locker

	instrumentID string
	settings     settings
	logger       *zap.Logger
}

// New creates a new transfer client.
func New(
	l ledger.Ledger,
	h holding.Holdings,
	reg registry.Registry,
	sub command.Submitter,
	opts ...Option,
) (*Client, error) {
	if l == nil {
		return nil, fmt.Errorf("nil ledger client")
	}
	if h == nil {
		return nil, fmt.Errorf("nil holdings client")
	}
	if reg == nil {
		return nil, fmt.Errorf("nil registry client")
	}
	if sub == nil {
		return nil, fmt.Errorf("nil submitter")
	}

	s := applyOptions(opts)
	if s.locker == nil {
		s.locker = partylock.New()
	}

	return &Client{
		ledger:       l,
		holdings:     h,
		registry:     reg,
		submitter:    sub,
		locker:       s.locker,
		instrumentID: s.instrumentID,
		settings:     s,
		logger:       s.logger,
	}, nil
}

// Lock acquires the party lock shared by every spend of party's holdings.
func (c *Client) Lock(ctx context.Context, party string) (func(), error) {
	return c.locker.Lock(ctx, party)
}

func (c *Client) instrument() values.InstrumentID {
	return values.InstrumentID{Admin: c.registry.Admin(), ID: c.instrumentID}
}

func (c *Client) Send(ctx context.Context, req *SendRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid transfer")
	}

	unlock, err := c.Lock(ctx, req.Sender)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sel, err := c.holdings.Select(ctx, req.Sender, c.instrumentID, req.Amount)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("send", "failed").Inc()
		return nil, err
	}

	factory, err := c.Factory(ctx, req, sel.ContractIDs())
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("send", "failed").Inc()
		return nil, err
	}

	out, err := c.Execute(ctx, req, sel.ContractIDs(), factory)
	if err != nil {
		return nil, err
	}
	return out.Result(0, req), nil
}

// Factory asks the registry for the transfer factory and context of a
// transfer spending inputs. The context does not depend on the receiver or
// amount, so a sequence of transfers from one sender may share it.
func (c *Client) Factory(ctx context.Context, req *SendRequest, inputs []string) (*registry.TransferFactory, error) {
	args := &registry.TransferFactoryArgs{
		ExpectedAdmin: c.registry.Admin(),
		Transfer:      c.transferRecord(req, inputs, c.settings.executeWindow),
		ExtraArgs:     values.EmptyExtraArgs(),
	}
	return c.registry.TransferFactory(ctx, args)
}

// Execute exercises TransferFactory_Transfer for req with the given inputs.
// The caller must hold the sender's party lock.
func (c *Client) Execute(
	ctx context.Context,
	req *SendRequest,
	inputs []string,
	factory *registry.TransferFactory,
) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid transfer")
	}
	window := c.settings.executeWindow
	kind := "send"
	if req.Sender == req.Receiver {
		window = mergeSplitWindow
		kind = "merge_split"
	}
	return c.exercise(ctx, kind, req, inputs, factory, window)
}

func (c *Client) exercise(
	ctx context.Context,
	kind string,
	req *SendRequest,
	inputs []string,
	factory *registry.TransferFactory,
	window time.Duration,
) (*Outcome, error) {
	if len(inputs) == 0 {
		metrics.TransfersTotal.WithLabelValues(kind, "failed").Inc()
		return nil, &sdkerrors.InsufficientBalanceError{Have: decimal.Zero, Need: req.Amount}
	}

	args := registry.TransferFactoryArgs{
		ExpectedAdmin: c.registry.Admin(),
		Transfer:      c.transferRecord(req, inputs, window),
		ExtraArgs: values.ExtraArgs{
			Context: factory.ChoiceContext.ChoiceContextData,
			Meta:    values.EmptyMetadata(),
		},
	}

	cmd := command.Exercise(req.Sender, registry.TemplateTransferFactory, factory.FactoryID,
		registry.ChoiceTransferFactoryTransfer, args).
		WithDisclosed(factory.ChoiceContext.DisclosedContracts...).
		WithCommandID(req.CommandID)

	result, err := c.submitter.Submit(ctx, cmd)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(kind, "failed").Inc()
		return nil, err
	}

	out, err := parseOutcome(result)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(kind, "failed").Inc()
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues(kind, "committed").Inc()
	c.logger.Info("transfer committed",
		zap.String("kind", kind),
		zap.String("sender", req.Sender),
		zap.String("receiver", req.Receiver),
		zap.String("amount", values.Numeric(req.Amount)),
		zap.String("instruction_cid", out.InstructionCID),
		zap.Int("change_holdings", len(out.SenderChangeCIDs)),
		zap.String("update_id", out.UpdateID),
	)
	return out, nil
}

func (c *Client) transferRecord(req *SendRequest, inputs []string, window time.Duration) registry.Transfer {
	now := c.settings.now().UTC()
	meta := map[string]string{
		values.MetaKeyReason:    req.Reason,
		values.MetaKeyReference: req.Reference,
	}
	if req.Sender == req.Receiver {
		meta[values.MetaKeyTxKind] = values.TxKindMergeSplit
	}
	return registry.Transfer{
		Sender:           req.Sender,
		Receiver:         req.Receiver,
		Amount:           req.Amount,
		InstrumentID:     c.instrument(),
		RequestedAt:      now,
		ExecuteBefore:    now.Add(window),
		InputHoldingCIDs: values.ContractIDs(inputs),
		Meta:             values.EncodeMetadata(meta),
	}
}

func parseOutcome(result *command.TransactionResult) (*Outcome, error) {
	raw, ok := result.ExerciseResult(registry.ChoiceTransferFactoryTransfer)
	if !ok {
		return nil, fmt.Errorf("update %s: no %s exercise", result.UpdateID, registry.ChoiceTransferFactoryTransfer)
	}
	fr, err := values.Decode[factoryResult](raw)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", result.UpdateID, err)
	}
	return &Outcome{
		UpdateID:            result.UpdateID,
		InstructionCID:      fr.Output.Value.TransferInstructionCid,
		SenderChangeCIDs:    values.ContractIDs(fr.SenderChangeCids),
		ReceiverHoldingCIDs: values.ContractIDs(fr.Output.Value.ReceiverHoldingCids),
		Raw:                 result.Raw(),
	}, nil
}

// Spendable returns the unlocked holdings of party for the configured
// instrument, in selection order.
func (c *Client) Spendable(ctx context.Context, party string) ([]holding.Holding, error) {
	all, err := c.holdings.List(ctx, party)
	if err != nil {
		return nil, err
	}
	eligible := holding.Eligible(all, party, c.instrumentID)
	holding.SortForSelection(eligible)
	return eligible, nil
}

func (c *Client) ListIncoming(ctx context.Context, party string) ([]*Offer, error) {
	return c.listOffers(ctx, party, func(o *Offer) bool { return o.Receiver == party })
}

func (c *Client) ListOutgoing(ctx context.Context, party string) ([]*Offer, error) {
	return c.listOffers(ctx, party, func(o *Offer) bool { return o.Sender == party })
}

func (c *Client) listOffers(ctx context.Context, party string, keep func(*Offer) bool) ([]*Offer, error) {
	if party == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party is required")
	}
	all, err := flow.Active(ctx, c.ledger, c.logger, party, registry.TemplateTransferOffer, decodeOffer)
	if err != nil {
		return nil, err
	}
	out := make([]*Offer, 0, len(all))
	for _, o := range all {
		if !strings.EqualFold(o.InstrumentID.ID, c.instrumentID) || !keep(o) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) Accept(ctx context.Context, party, offerCID string) (*AcceptResult, error) {
	if party == "" || offerCID == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party and offer id are required")
	}
	cc, err := c.registry.AcceptContext(ctx, offerCID)
	if err != nil {
		return nil, err
	}

	req := instructionCommand(party, offerCID, registry.ChoiceTransferAccept, cc)
	result, err := c.submitter.Submit(ctx, req)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("accept", "failed").Inc()
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("accept", "committed").Inc()
	c.logger.Info("transfer accepted", zap.String("party", party), zap.String("offer", offerCID))
	return &AcceptResult{Success: true, ContractID: offerCID, UpdateID: result.UpdateID}, nil
}

func instructionCommand(party, offerCID, choice string, cc *registry.ChoiceContext) *command.Request {
	arg := choiceArgs{ExtraArgs: values.ExtraArgs{Context: cc.ChoiceContextData, Meta: values.EmptyMetadata()}}
	return command.Exercise(party, registry.TemplateTransferInstruction, offerCID, choice, arg).
		WithDisclosed(cc.DisclosedContracts...)
}

func (c *Client) AcceptAll(ctx context.Context, party string) (*AcceptAllResult, error) {
	offers, err := c.ListIncoming(ctx, party)
	if err != nil {
		return nil, err
	}

	res := &AcceptAllResult{Results: make([]AcceptResult, 0, len(offers))}
	record := func(ar AcceptResult) {
		res.Results = append(res.Results, ar)
		if ar.Success {
			res.SuccessfulCount++
		} else {
			res.FailedCount++
		}
	}

	for start := 0; start < len(offers); start += AcceptChunkSize {
		end := min(start+AcceptChunkSize, len(offers))
		for _, ar := range c.acceptChunk(ctx, party, offers[start:end]) {
			record(ar)
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	c.logger.Info("accept all finished",
		zap.String("party", party),
		zap.Int("accepted", res.SuccessfulCount),
		zap.Int("failed", res.FailedCount),
	)
	return res, nil
}

type pendingAccept struct {
	offer *Offer
	cc    *registry.ChoiceContext
}

// acceptChunk accepts offers in one transaction. When the combined
// submission is rejected each offer is retried on its own, so one bad offer
// does not fail the rest of its chunk.
func (c *Client) acceptChunk(ctx context.Context, party string, offers []*Offer) []AcceptResult {
	out := make([]AcceptResult, 0, len(offers))
	failed := func(o *Offer, err error) AcceptResult {
		metrics.TransfersTotal.WithLabelValues("accept", "failed").Inc()
		return AcceptResult{ContractID: o.ContractID, Amount: o.Amount, Sender: o.Sender, Error: err.Error()}
	}

	var ready []pendingAccept
	for _, o := range offers {
		cc, err := c.registry.AcceptContext(ctx, o.ContractID)
		if err != nil {
			out = append(out, failed(o, err))
			continue
		}
		ready = append(ready, pendingAccept{offer: o, cc: cc})
	}
	if len(ready) == 0 {
		return out
	}

	var req *command.Request
	for _, p := range ready {
		if req == nil {
			req = instructionCommand(party, p.offer.ContractID, registry.ChoiceTransferAccept, p.cc)
			continue
		}
		arg := choiceArgs{ExtraArgs: values.ExtraArgs{Context: p.cc.ChoiceContextData, Meta: values.EmptyMetadata()}}
		req.WithExercise(registry.TemplateTransferInstruction, p.offer.ContractID, registry.ChoiceTransferAccept, arg).
			WithDisclosed(p.cc.DisclosedContracts...)
	}

	result, err := c.submitter.Submit(ctx, req)
	if err == nil {
		for _, p := range ready {
			metrics.TransfersTotal.WithLabelValues("accept", "committed").Inc()
			out = append(out, AcceptResult{
				Success:    true,
				ContractID: p.offer.ContractID,
				Amount:     p.offer.Amount,
				Sender:     p.offer.Sender,
				UpdateID:   result.UpdateID,
			})
		}
		return out
	}

	if len(ready) == 1 {
		return append(out, failed(ready[0].offer, err))
	}

	c.logger.Warn("chunked accept failed, accepting one by one", zap.Int("offers", len(ready)), zap.Error(err))
	for _, p := range ready {
		result, err := c.submitter.Submit(ctx, instructionCommand(party, p.offer.ContractID, registry.ChoiceTransferAccept, p.cc))
		if err != nil {
			out = append(out, failed(p.offer, err))
			continue
		}
		metrics.TransfersTotal.WithLabelValues("accept", "committed").Inc()
		out = append(out, AcceptResult{
			Success:    true,
			ContractID: p.offer.ContractID,
			Amount:     p.offer.Amount,
			Sender:     p.offer.Sender,
			UpdateID:   result.UpdateID,
		})
	}
	return out
}

func (c *Client) WithdrawOffer(ctx context.Context, party, offerCID string) (string, error) {
	if party == "" || offerCID == "" {
		return "", sdkerrors.InvalidInputError(nil, "party and offer id are required")
	}
	cc, err := c.registry.WithdrawContext(ctx, offerCID)
	if err != nil {
		return "", err
	}

	result, err := c.submitter.Submit(ctx, instructionCommand(party, offerCID, registry.ChoiceTransferWithdraw, cc))
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("withdraw", "failed").Inc()
		return "", err
	}

	metrics.TransfersTotal.WithLabelValues("withdraw", "committed").Inc()
	c.logger.Info("transfer offer withdrawn", zap.String("party", party), zap.String("offer", offerCID))
	return result.UpdateID, nil
}

func (c *Client) Consolidate(ctx context.Context, party string, threshold int) (*ConsolidateResult, error) {
	if party == "" {
		return nil, sdkerrors.InvalidInputError(nil, "party is required")
	}
	if threshold < 2 {
		return nil, sdkerrors.InvalidInputError(nil, "threshold must be at least 2")
	}

	unlock, err := c.Lock(ctx, party)
	if err != nil {
		return nil, err
	}
	defer unlock()

	spendable, err := c.Spendable(ctx, party)
	if err != nil {
		return nil, err
	}

	res := &ConsolidateResult{Before: len(spendable), After: len(spendable)}
	for _, h := range spendable {
		res.HoldingCIDs = append(res.HoldingCIDs, h.ContractID)
	}
	if len(spendable) < threshold {
		c.logger.Debug("consolidation not needed", zap.String("party", party), zap.Int("holdings", len(spendable)))
		return res, nil
	}

	req := &SendRequest{
		Sender:   party,
		Receiver: party,
		Amount:   holding.Sum(spendable),
		Reason:   reasonConsolidation,
	}
	factory, err := c.Factory(ctx, req, res.HoldingCIDs)
	if err != nil {
		return nil, err
	}
	out, err := c.exercise(ctx, "consolidate", req, res.HoldingCIDs, factory, mergeSplitWindow)
	if err != nil {
		return nil, err
	}

	merged := append(append([]string{}, out.ReceiverHoldingCIDs...), out.SenderChangeCIDs...)
	res.Consolidated = true
	res.HoldingCIDs = merged
	res.After = len(merged)
	res.UpdateID = out.UpdateID
	return res, nil
}

func (c *Client) Split(ctx context.Context, party string, amounts []decimal.Decimal) (*SplitResult, error) {
	if party == "" || len(amounts) == 0 {
		return nil, sdkerrors.InvalidInputError(nil, "party and at least one amount are required")
	}
	total := decimal.Zero
	for i, a := range amounts {
		if err := values.CheckAmount(a); err != nil {
			return nil, sdkerrors.InvalidInputError(err, fmt.Sprintf("invalid amount %d", i))
		}
		total = total.Add(a)
	}

	unlock, err := c.Lock(ctx, party)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sel, err := c.holdings.Select(ctx, party, c.instrumentID, total)
	if err != nil {
		return nil, err
	}

	res := &SplitResult{}
	current := sel.ContractIDs()
	for i, amount := range amounts {
		if len(current) == 0 {
			return res, fmt.Errorf("split %d: no change left to split", i)
		}
		req := &SendRequest{Sender: party, Receiver: party, Amount: amount, Reason: reasonSplit}
		factory, err := c.Factory(ctx, req, current)
		if err != nil {
			return res, fmt.Errorf("split %d: %w", i, err)
		}
		out, err := c.exercise(ctx, "split", req, current, factory, mergeSplitWindow)
		if err != nil {
			return res, fmt.Errorf("split %d: %w", i, err)
		}
		if len(out.ReceiverHoldingCIDs) == 0 {
			return res, fmt.Errorf("split %d: update %s created no output holding", i, out.UpdateID)
		}
		res.OutputHoldingCIDs = append(res.OutputHoldingCIDs, out.ReceiverHoldingCIDs[0])
		current = out.SenderChangeCIDs
	}
	res.ChangeHoldingCIDs = current
	return res, nil
}
