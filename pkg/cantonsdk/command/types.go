package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Config controls submission retries.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errors.New("max_backoff must be >= initial_backoff")
	}
	return nil
}

// Option configures the submitter.
type Option func(*settings)

type settings struct {
	logger *zap.Logger
}

// WithLogger sets a custom logger for the submitter.
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

// Role names a contract the caller expects the transaction to create,
// identified by template.
type Role struct {
	Name       string
	TemplateID string
}

// Request is one idempotent submission.
type Request struct {
	ActAs  string
	ReadAs []string
	// Commands are exercised atomically in a single transaction.
	Commands  []ledger.ExerciseCommand
	Disclosed []ledger.DisclosedContract
	// CommandID is the idempotency key. Reusing it for a retry of the same
	// logical operation guarantees at most one commit.
	CommandID string
	// Roles maps created contracts to names in the result.
	Roles []Role
}

// Exercise is a convenience constructor for a single-command request.
func Exercise(actAs, templateID, contractID, choice string, arg any) *Request {
	return &Request{
		ActAs: actAs,
		Commands: []ledger.ExerciseCommand{{
			TemplateID:     templateID,
			ContractID:     contractID,
			Choice:         choice,
			ChoiceArgument: arg,
		}},
		CommandID: NewCommandID(),
	}
}

// WithDisclosed appends disclosed contracts, skipping contract ids that are
// already present.
func (r *Request) WithDisclosed(dc ...ledger.DisclosedContract) *Request {
	for _, d := range dc {
		dup := false
		for _, have := range r.Disclosed {
			if have.ContractID == d.ContractID {
				dup = true
				break
			}
		}
		if !dup {
			r.Disclosed = append(r.Disclosed, d)
		}
	}
	return r
}

// WithExercise appends another command to the same transaction.
func (r *Request) WithExercise(templateID, contractID, choice string, arg any) *Request {
	r.Commands = append(r.Commands, ledger.ExerciseCommand{
		TemplateID:     templateID,
		ContractID:     contractID,
		Choice:         choice,
		ChoiceArgument: arg,
	})
	return r
}

// WithRoles appends expected roles.
func (r *Request) WithRoles(roles ...Role) *Request {
	r.Roles = append(r.Roles, roles...)
	return r
}

// WithCommandID overrides the generated idempotency key.
func (r *Request) WithCommandID(id string) *Request {
	if id != "" {
		r.CommandID = id
	}
	return r
}

func (r *Request) validate() error {
	if r == nil {
		return errors.New("nil request")
	}
	if r.ActAs == "" {
		return errors.New("act_as is required")
	}
	if len(r.Commands) == 0 {
		return errors.New("at least one command is required")
	}
	for i, cmd := range r.Commands {
		if cmd.TemplateID == "" || cmd.ContractID == "" || cmd.Choice == "" {
			return fmt.Errorf("command %d: template id, contract id and choice are required", i)
		}
	}
	if r.CommandID == "" {
		return errors.New("command_id is required")
	}
	return nil
}

func (r *Request) submitRequest() *ledger.SubmitRequest {
	return &ledger.SubmitRequest{
		Commands:           r.Commands,
		CommandID:          r.CommandID,
		ActAs:              []string{r.ActAs},
		ReadAs:             r.ReadAs,
		DisclosedContracts: r.Disclosed,
	}
}

// TransactionResult is the interpreted outcome of a committed submission.
type TransactionResult struct {
	UpdateID  string
	CommandID string
	Offset    int64

	// Exercised and Created are in transaction order.
	Exercised []*ledger.ExercisedEvent
	Created   []*ledger.CreatedEvent
	Archived  []string

	// Roles holds created contract ids per requested role, in event order.
	Roles map[string][]string

	Tree *ledger.TransactionTree
}

// Role returns the first contract id created for name, or "".
func (r *TransactionResult) Role(name string) string {
	if ids := r.Roles[name]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// ExerciseResult returns the result of the first exercise of choice.
func (r *TransactionResult) ExerciseResult(choice string) (json.RawMessage, bool) {
	for _, ev := range r.Exercised {
		if ev.Choice == choice {
			return ev.ExerciseResult, true
		}
	}
	return nil, false
}

// CreatedOf returns created events whose template matches templateID.
func (r *TransactionResult) CreatedOf(templateID string) []*ledger.CreatedEvent {
	var out []*ledger.CreatedEvent
	for _, ce := range r.Created {
		if matchesTemplate(ce.TemplateID, templateID) {
			out = append(out, ce)
		}
	}
	return out
}

// Raw returns the transaction tree as JSON, for diagnostics.
func (r *TransactionResult) Raw() string {
	b, err := json.Marshal(r.Tree)
	if err != nil {
		return ""
	}
	return string(b)
}
