// Package flow holds the pieces shared by the mint and burn workflows:
// workflow states, step errors that carry resume information, and the
// active-contract query helper.
package flow

import (
	"fmt"

	"github.com/chainsafe/canton-cbtc/internal/metrics"

	"go.uber.org/zap"
)

// State is a workflow step.
type State string

const (
	Unauthenticated              State = "unauthenticated"
	Authenticated                State = "authenticated"
	RulesFetched                 State = "rules_fetched"
	AccountCreated               State = "account_created"
	AddressRetrieved             State = "address_retrieved"
	AwaitingExternalConfirmation State = "awaiting_external_confirmation"
	HoldingsSelected             State = "holdings_selected"
	DisclosuresResolved          State = "disclosures_resolved"
	Submitted                    State = "submitted"
	AwaitingExternalProcessing   State = "awaiting_external_processing"
	Completed                    State = "completed"
)

// StepError reports the step that failed and the last state reached.
// The wrapped error is the original failure, unchanged.
type StepError struct {
	Flow    string
	Step    State
	Reached State
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s flow failed at %s (reached %s): %v", e.Flow, e.Step, e.Reached, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Tracker records state transitions of one workflow run.
type Tracker struct {
	flow    string
	state   State
	history []State
	logger  *zap.Logger
}

// NewTracker starts a workflow in the Unauthenticated state.
func NewTracker(flow string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		flow:    flow,
		state:   Unauthenticated,
		history: []State{Unauthenticated},
		logger:  logger.With(zap.String("flow", flow)),
	}
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// History returns every state reached, in order.
func (t *Tracker) History() []State {
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}

// Advance moves to next.
func (t *Tracker) Advance(next State) {
	t.state = next
	t.history = append(t.history, next)
	metrics.FlowStepsTotal.WithLabelValues(t.flow, string(next), "reached").Inc()
	t.logger.Info("workflow step reached", zap.String("state", string(next)))
}

// Fail wraps err as a StepError for step.
func (t *Tracker) Fail(step State, err error) error {
	metrics.FlowStepsTotal.WithLabelValues(t.flow, string(step), "failed").Inc()
	t.logger.Error("workflow step failed",
		zap.String("step", string(step)),
		zap.String("reached", string(t.state)),
		zap.Error(err),
	)
	return &StepError{Flow: t.flow, Step: step, Reached: t.state, Err: err}
}
