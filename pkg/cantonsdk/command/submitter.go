// Package command builds idempotent ledger commands, submits them with
// retries on transient failures, and interprets the resulting transaction
// tree.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainsafe/canton-cbtc/internal/metrics"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submitter submits commands to the ledger.
type Submitter interface {
	// Submit sends req and waits for the committed transaction. Transient
	// failures are retried with the same command id, so a command that was
	// committed by an attempt whose response was lost is not applied twice.
	Submit(ctx context.Context, req *Request) (*TransactionResult, error)
}

// Client is the concrete Submitter.
type Client struct {
	cfg    Config
	ledger ledger.Ledger
	logger *zap.Logger
}

// New creates a new command submitter.
func New(cfg *Config, l ledger.Ledger, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if l == nil {
		return nil, fmt.Errorf("nil ledger client")
	}

	s := applyOptions(opts)
	return &Client{cfg: c, ledger: l, logger: s.logger}, nil
}

// NewCommandID returns a fresh idempotency key.
func NewCommandID() string {
	return "cmd-" + uuid.NewString()
}

func (c *Client) Submit(ctx context.Context, req *Request) (*TransactionResult, error) {
	if err := req.validate(); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid command")
	}

	body := req.submitRequest()
	choice := req.Commands[0].Choice
	logger := c.logger.With(
		zap.String("command_id", req.CommandID),
		zap.String("choice", choice),
		zap.String("act_as", req.ActAs),
	)

	start := time.Now()
	defer func() {
		metrics.SubmissionDuration.WithLabelValues(choice).Observe(time.Since(start).Seconds())
	}()

	var (
		tree        *ledger.TransactionTree
		authRetried bool
	)
	op := func() error {
		t, err := c.ledger.SubmitAndWaitForTransactionTree(ctx, body)
		if err == nil {
			tree = t
			return nil
		}
		if sdkerrors.IsRetryable(err) {
			return err
		}
		// The ledger client drops its token on 401/403, so one more attempt
		// runs with a renewed credential.
		if sdkerrors.Is(err, sdkerrors.CategoryAuthExpired) && !authRetried {
			authRetried = true
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.SubmissionRetries.WithLabelValues(choice).Inc()
		logger.Warn("submission failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}

	if err := backoff.RetryNotify(op, c.policy(ctx), notify); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(choice, submissionStatus(err)).Inc()
		logger.Error("submission failed", zap.Error(err))
		return nil, err
	}

	result, err := parseTree(tree, req.Roles)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(choice, "malformed").Inc()
		return nil, fmt.Errorf("interpret transaction %s: %w", tree.UpdateID, err)
	}

	metrics.SubmissionsTotal.WithLabelValues(choice, "committed").Inc()
	logger.Info("command committed",
		zap.String("update_id", result.UpdateID),
		zap.Int64("offset", result.Offset),
		zap.Int("created", len(result.Created)),
	)
	return result, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

func submissionStatus(err error) string {
	var subErr *sdkerrors.SubmissionError
	switch {
	case errors.As(err, &subErr):
		return "rejected"
	case sdkerrors.IsRetryable(err):
		return "unavailable"
	case sdkerrors.Is(err, sdkerrors.CategoryAuthExpired):
		return "auth_expired"
	default:
		return "error"
	}
}

func parseTree(tree *ledger.TransactionTree, roles []Role) (*TransactionResult, error) {
	if tree == nil {
		return nil, fmt.Errorf("nil transaction tree")
	}
	res := &TransactionResult{
		UpdateID:  tree.UpdateID,
		CommandID: tree.CommandID,
		Offset:    tree.Offset,
		Roles:     make(map[string][]string, len(roles)),
		Tree:      tree,
	}

	if len(tree.Events) == 0 || tree.Events[0].Exercised == nil {
		return nil, fmt.Errorf("update %s: first event is not an exercise", tree.UpdateID)
	}

	archived := make(map[string]bool)
	for _, ev := range tree.Events {
		switch {
		case ev.Exercised != nil:
			res.Exercised = append(res.Exercised, ev.Exercised)
			if ev.Exercised.Consuming && !archived[ev.Exercised.ContractID] {
				archived[ev.Exercised.ContractID] = true
				res.Archived = append(res.Archived, ev.Exercised.ContractID)
			}
		case ev.Created != nil:
			res.Created = append(res.Created, ev.Created)
		case ev.Archived != nil:
			if !archived[ev.Archived.ContractID] {
				archived[ev.Archived.ContractID] = true
				res.Archived = append(res.Archived, ev.Archived.ContractID)
			}
		}
	}
	for _, role := range roles {
		for _, ce := range res.Created {
			if matchesTemplate(ce.TemplateID, role.TemplateID) {
				res.Roles[role.Name] = append(res.Roles[role.Name], ce.ContractID)
			}
		}
	}
	return res, nil
}

// matchesTemplate compares "Module:Entity" suffixes so that package-name
// references (#cbtc:...) match package-id references returned by the ledger.
func matchesTemplate(got, want string) bool {
	if ledger.SameTemplate(got, want) {
		return true
	}
	return strings.HasSuffix(got, want)
}
