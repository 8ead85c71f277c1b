package command

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetries = &Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func tree(updateID string, events ...ledger.TreeEvent) *ledger.TransactionTree {
	for i := range events {
		events[i].NodeID = i
	}
	return &ledger.TransactionTree{UpdateID: updateID, Offset: 5, Events: events}
}

func exercised(cid, choice string, consuming bool) ledger.TreeEvent {
	return ledger.TreeEvent{Exercised: &ledger.ExercisedEvent{ContractID: cid, Choice: choice, Consuming: consuming}}
}

func created(cid, templateID string) ledger.TreeEvent {
	return ledger.TreeEvent{Created: &ledger.CreatedEvent{ContractID: cid, TemplateID: templateID}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{MaxRetries: -1}, &MockLedger{})
	assert.Error(t, err)

	_, err = New(&Config{InitialBackoff: time.Second, MaxBackoff: time.Millisecond}, &MockLedger{})
	assert.Error(t, err)

	_, err = New(nil, nil)
	assert.Error(t, err)

	c, err := New(nil, &MockLedger{})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxRetries, c.cfg.MaxRetries)
}

func TestSubmit_RetriesTransientWithSameCommandID(t *testing.T) {
	var ids []string
	l := &MockLedger{
		SubmitFunc: func(_ context.Context, req *ledger.SubmitRequest) (*ledger.TransactionTree, error) {
			ids = append(ids, req.CommandID)
			if len(ids) < 3 {
				return nil, sdkerrors.LedgerUnavailableError(errors.New("503"))
			}
			return tree("u1", exercised("00rules", "Create", false), created("00acct", "abc:CBTC.DepositAccount:CBTCDepositAccount")), nil
		},
	}
	s, err := New(fastRetries, l)
	require.NoError(t, err)

	req := Exercise("alice", "#cbtc:CBTC.DepositAccountRules:CBTCDepositAccountRules", "00rules", "Create", nil).
		WithRoles(Role{Name: "account", TemplateID: "#cbtc:CBTC.DepositAccount:CBTCDepositAccount"})
	res, err := s.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, ids, 3)
	for _, id := range ids {
		assert.Equal(t, req.CommandID, id)
	}
	assert.Equal(t, "00acct", res.Role("account"))
	assert.Equal(t, "u1", res.UpdateID)
}

func TestSubmit_RejectionIsNotRetried(t *testing.T) {
	calls := 0
	l := &MockLedger{
		SubmitFunc: func(context.Context, *ledger.SubmitRequest) (*ledger.TransactionTree, error) {
			calls++
			return nil, &sdkerrors.SubmissionError{Status: 400, Code: "INSUFFICIENT_FUNDS"}
		},
	}
	s, _ := New(fastRetries, l)

	_, err := s.Submit(context.Background(), Exercise("alice", "#p:M:T", "00a", "C", nil))
	var subErr *sdkerrors.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 1, calls)
}

func TestSubmit_AuthExpiredRetriedOnce(t *testing.T) {
	calls := 0
	l := &MockLedger{
		SubmitFunc: func(context.Context, *ledger.SubmitRequest) (*ledger.TransactionTree, error) {
			calls++
			return nil, sdkerrors.AuthExpiredError(errors.New("401"))
		},
	}
	s, _ := New(fastRetries, l)

	_, err := s.Submit(context.Background(), Exercise("alice", "#p:M:T", "00a", "C", nil))
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryAuthExpired))
	assert.Equal(t, 2, calls)
}

func TestSubmit_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	l := &MockLedger{
		SubmitFunc: func(context.Context, *ledger.SubmitRequest) (*ledger.TransactionTree, error) {
			calls++
			return nil, sdkerrors.LedgerUnavailableError(errors.New("down"))
		},
	}
	s, _ := New(fastRetries, l)

	_, err := s.Submit(context.Background(), Exercise("alice", "#p:M:T", "00a", "C", nil))
	assert.True(t, sdkerrors.IsRetryable(err))
	assert.Equal(t, fastRetries.MaxRetries+1, calls)
}

func TestSubmit_InvalidRequest(t *testing.T) {
	s, _ := New(fastRetries, &MockLedger{})

	_, err := s.Submit(context.Background(), &Request{ActAs: "alice"})
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))

	_, err = s.Submit(context.Background(), Exercise("", "#p:M:T", "00a", "C", nil))
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
}

func TestParseTree_ArchivedAndRoles(t *testing.T) {
	tr := tree("u",
		exercised("00f", "TransferFactory_Transfer", false),
		exercised("00h1", "Archive", true),
		exercised("00h2", "Archive", true),
		created("00chg", "abc:Utility.Registry.Holding.V0.Holding:Holding"),
		created("00offer", "abc:Utility.Registry.App.V0.Model.Transfer:TransferOffer"),
	)
	res, err := parseTree(tr, []Role{
		{Name: "holding", TemplateID: "#utility-registry-holding-v0:Utility.Registry.Holding.V0.Holding:Holding"},
		{Name: "missing", TemplateID: "#x:Y:Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"00h1", "00h2"}, res.Archived)
	assert.Equal(t, "00chg", res.Role("holding"))
	assert.Empty(t, res.Role("missing"))
	assert.Len(t, res.CreatedOf("#utility-registry-app-v0:Utility.Registry.App.V0.Model.Transfer:TransferOffer"), 1)

	_, err = parseTree(tree("u", created("00x", "a:B:C")), nil)
	assert.Error(t, err, "a tree without an exercise is malformed")

	_, err = parseTree(tree("u", created("00x", "a:B:C"), exercised("00f", "C", false)), nil)
	assert.Error(t, err, "the exercised event must come first")

	_, err = parseTree(tree("u"), nil)
	assert.Error(t, err)
}

func TestWithDisclosed_SkipsDuplicates(t *testing.T) {
	req := Exercise("alice", "#p:M:T", "00a", "C", nil).
		WithDisclosed(ledger.DisclosedContract{ContractID: "00x"}, ledger.DisclosedContract{ContractID: "00y"}).
		WithDisclosed(ledger.DisclosedContract{ContractID: "00x"})
	assert.Len(t, req.Disclosed, 2)
}

// A response lost after the ledger committed is retried with the same
// command id and resolves to the original transaction.
func TestSubmit_LostResponseCommitsOnce(t *testing.T) {
	srv := ledgertest.Start(t)
	l, err := ledger.New(srv.LedgerConfig())
	require.NoError(t, err)
	s, err := New(fastRetries, l)
	require.NoError(t, err)
	a, err := attestor.New(srv.AttestorConfig())
	require.NoError(t, err)

	rules, err := a.AccountRules(context.Background())
	require.NoError(t, err)

	owner := "alice::1220"
	newRequest := func() *Request {
		return Exercise(owner, ledgertest.TemplateDepositAccountRules, rules.DepositRules.ContractID,
			"CBTCDepositAccountRules_CreateDepositAccount", map[string]string{"owner": owner}).
			WithRoles(Role{Name: "account", TemplateID: ledgertest.TemplateDepositAccount})
	}

	// Without disclosure the rules contract is invisible to the owner.
	_, err = s.Submit(context.Background(), newRequest())
	var subErr *sdkerrors.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "CONTRACT_NOT_FOUND", subErr.Code)
	assert.Equal(t, 0, srv.Submissions())

	srv.FailNext(ledgertest.RouteSubmit, http.StatusServiceUnavailable)
	srv.DropNextSubmitResponses(1)

	res, err := s.Submit(context.Background(), newRequest().WithDisclosed(rules.DepositRules.Disclosed()))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Role("account"))
	assert.Equal(t, 1, srv.Submissions())
	assert.Len(t, srv.ActiveContracts(owner, ledgertest.TemplateDepositAccount), 1)
	// rejected, dropped and replayed attempts reach the ledger; the injected
	// 503 does not
	assert.Equal(t, 3, srv.SubmitAttempts())
}
