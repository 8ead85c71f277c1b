// Package batch distributes CBTC to many receivers, one transfer at a time,
// reporting each outcome to a caller-supplied callback.
package batch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/canton-cbtc/internal/metrics"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sender is the subset of the transfer client the engine drives.
type Sender interface {
	Send(ctx context.Context, req *transfer.SendRequest) (*transfer.Result, error)
	Lock(ctx context.Context, party string) (func(), error)
	Spendable(ctx context.Context, party string) ([]holding.Holding, error)
	Factory(ctx context.Context, req *transfer.SendRequest, inputs []string) (*registry.TransferFactory, error)
	Execute(ctx context.Context, req *transfer.SendRequest, inputs []string, factory *registry.TransferFactory) (*transfer.Outcome, error)
}

// Authenticator proves the session works before any item is attempted.
type Authenticator interface {
	JWTSubject(ctx context.Context) (string, error)
}

// Callback observes each transfer result. Errors and panics are logged and
// never stop the batch.
type Callback func(ctx context.Context, res *transfer.Result) error

// Item is one receiver.
type Item struct {
	Receiver string
	Amount   decimal.Decimal
	// Reference overrides the reference derived from Request.ReferenceBase.
	Reference string
}

// Request describes a batch.
type Request struct {
	Sender string
	Items  []Item
	// ReferenceBase, when set, gives every transfer the reference
	// base64("<base>-<sender>-<receiver>").
	ReferenceBase string
	Reason        string
	// ChainChange spends the sender change of each transfer as the input of
	// the next instead of selecting holdings per item. The registry context
	// is fetched once.
	ChainChange bool
}

// Report aggregates a batch. Results are in item order.
type Report struct {
	Results         []*transfer.Result
	SuccessfulCount int
	FailedCount     int
	Duration        time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs batches.
type Engine struct {
	sender Sender
	auth   Authenticator
	logger *zap.Logger
}

// New creates a batch engine.
func New(s Sender, auth Authenticator, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("nil sender")
	}
	if auth == nil {
		return nil, fmt.Errorf("nil authenticator")
	}
	e := &Engine{sender: s, auth: auth, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// UniqueReference derives the per-receiver reference of a batch run.
func UniqueReference(base, sender, receiver string) string {
	return base64.StdEncoding.EncodeToString([]byte(base + "-" + sender + "-" + receiver))
}

func validate(req *Request) error {
	if req == nil || req.Sender == "" {
		return errors.New("sender is required")
	}
	if len(req.Items) == 0 {
		return errors.New("no items to process")
	}
	for i, it := range req.Items {
		if it.Receiver == "" {
			return fmt.Errorf("item %d: receiver is required", i)
		}
		if err := values.CheckAmount(it.Amount); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// Run processes the items strictly in order. Item failures are recorded in
// the report; only setup failures (invalid request, authentication,
// chained-mode preparation) return an error without a report. A canceled
// context stops the batch and returns the partial report with the error.
func (e *Engine) Run(ctx context.Context, req *Request, onEach Callback) (*Report, error) {
	if err := validate(req); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid batch")
	}
	if _, err := e.auth.JWTSubject(ctx); err != nil {
		return nil, fmt.Errorf("authenticate batch: %w", err)
	}

	start := time.Now()
	logger := e.logger.With(zap.String("sender", req.Sender), zap.Int("items", len(req.Items)))
	logger.Info("batch started", zap.Bool("chain_change", req.ChainChange))

	var (
		report *Report
		err    error
	)
	if req.ChainChange {
		report, err = e.runChained(ctx, req, onEach, logger)
	} else {
		report, err = e.runSelected(ctx, req, onEach, logger)
	}
	if report == nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	metrics.BatchDuration.Observe(report.Duration.Seconds())
	logger.Info("batch finished",
		zap.Int("successful", report.SuccessfulCount),
		zap.Int("failed", report.FailedCount),
		zap.Duration("duration", report.Duration),
	)
	return report, err
}

func (e *Engine) sendRequest(req *Request, it Item) *transfer.SendRequest {
	ref := it.Reference
	if ref == "" && req.ReferenceBase != "" {
		ref = UniqueReference(req.ReferenceBase, req.Sender, it.Receiver)
	}
	return &transfer.SendRequest{
		Sender:    req.Sender,
		Receiver:  it.Receiver,
		Amount:    it.Amount,
		Reference: ref,
		Reason:    req.Reason,
	}
}

func (e *Engine) runSelected(ctx context.Context, req *Request, onEach Callback, logger *zap.Logger) (*Report, error) {
	report := &Report{Results: make([]*transfer.Result, 0, len(req.Items))}
	for i, it := range req.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr := e.sendRequest(req, it)

		res, err := e.sender.Send(ctx, sr)
		if err != nil {
			res = transfer.FailedResult(i, sr, err)
		} else {
			res.Index = i
		}
		e.record(ctx, report, res, onEach, logger)
	}
	return report, nil
}

func (e *Engine) runChained(ctx context.Context, req *Request, onEach Callback, logger *zap.Logger) (*Report, error) {
	unlock, err := e.sender.Lock(ctx, req.Sender)
	if err != nil {
		return nil, err
	}
	defer unlock()

	spendable, err := e.sender.Spendable(ctx, req.Sender)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	if len(spendable) == 0 {
		return nil, &sdkerrors.InsufficientBalanceError{Have: decimal.Zero, Need: req.Items[0].Amount}
	}
	current := make([]string, 0, len(spendable))
	for _, h := range spendable {
		current = append(current, h.ContractID)
	}

	factory, err := e.sender.Factory(ctx, e.sendRequest(req, req.Items[0]), current)
	if err != nil {
		return nil, fmt.Errorf("fetch transfer context: %w", err)
	}
	logger.Debug("chained batch prepared", zap.Int("initial_holdings", len(current)))

	report := &Report{Results: make([]*transfer.Result, 0, len(req.Items))}
	for i, it := range req.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr := e.sendRequest(req, it)

		if len(current) == 0 {
			e.record(ctx, report, transfer.FailedResult(i, sr, errors.New("no holdings left to spend")), onEach, logger)
			continue
		}

		out, err := e.sender.Execute(ctx, sr, current, factory)
		if err != nil {
			// A rejected transfer consumed nothing; the next item reuses the
			// same inputs.
			e.record(ctx, report, transfer.FailedResult(i, sr, err), onEach, logger)
			continue
		}
		current = out.SenderChangeCIDs
		e.record(ctx, report, out.Result(i, sr), onEach, logger)
	}
	return report, nil
}

func (e *Engine) record(ctx context.Context, report *Report, res *transfer.Result, onEach Callback, logger *zap.Logger) {
	report.Results = append(report.Results, res)
	if res.Success {
		report.SuccessfulCount++
		metrics.BatchItems.WithLabelValues("success").Inc()
	} else {
		report.FailedCount++
		metrics.BatchItems.WithLabelValues("failed").Inc()
		logger.Warn("batch item failed",
			zap.Int("index", res.Index),
			zap.String("receiver", res.Receiver),
			zap.String("error", *res.Error),
		)
	}
	e.notify(ctx, onEach, res, logger)
}

// notify runs the callback synchronously, containing its failures. The
// callback sees a copy so the recorded result cannot change.
func (e *Engine) notify(ctx context.Context, onEach Callback, res *transfer.Result, logger *zap.Logger) {
	if onEach == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.ErrorsTotal.WithLabelValues("batch", "callback_panic").Inc()
			logger.Error("batch callback panicked", zap.Int("index", res.Index), zap.Any("panic", r))
		}
	}()
	if err := onEach(ctx, res.Clone()); err != nil {
		metrics.ErrorsTotal.WithLabelValues("batch", "callback_error").Inc()
		logger.Warn("batch callback failed", zap.Int("index", res.Index), zap.Error(err))
	}
}
