package batch

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"
	"github.com/chainsafe/canton-cbtc/pkg/ledgertest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "alice::1220"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func items(receivers ...string) []Item {
	out := make([]Item, 0, len(receivers))
	for _, r := range receivers {
		out = append(out, Item{Receiver: r, Amount: d("0.1")})
	}
	return out
}

func okSend(_ context.Context, req *transfer.SendRequest) (*transfer.Result, error) {
	cid := "00instr-" + req.Receiver
	return (&transfer.Outcome{UpdateID: "u-" + req.Receiver, InstructionCID: cid}).Result(0, req), nil
}

func TestRun_ItemFailureDoesNotStopBatch(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, req *transfer.SendRequest) (*transfer.Result, error) {
			if req.Receiver == "bob" {
				return nil, &sdkerrors.SubmissionError{Status: 400, Code: "INSUFFICIENT_FUNDS"}
			}
			return okSend(ctx, req)
		},
	}
	e, err := New(sender, &MockAuthenticator{})
	require.NoError(t, err)

	var seen []int
	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("carol", "bob", "dave")},
		func(_ context.Context, res *transfer.Result) error {
			seen = append(seen, res.Index)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, seen)
	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.SuccessfulCount)
	assert.Equal(t, 1, report.FailedCount)

	failed := report.Results[1]
	assert.False(t, failed.Success)
	assert.Equal(t, "bob", failed.Receiver)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "INSUFFICIENT_FUNDS")
	assert.Nil(t, failed.ContractID)

	assert.Equal(t, "carol", report.Results[0].Receiver)
	assert.Equal(t, 2, report.Results[2].Index)
}

func TestRun_CallbackFailuresAreContained(t *testing.T) {
	e, _ := New(&MockSender{SendFunc: okSend}, &MockAuthenticator{})

	calls := 0
	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("a", "b", "c")},
		func(context.Context, *transfer.Result) error {
			calls++
			switch calls {
			case 1:
				panic("callback exploded")
			case 2:
				return errors.New("callback failed")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, report.SuccessfulCount)
}

func TestRun_CallbackCannotRewriteReport(t *testing.T) {
	e, _ := New(&MockSender{SendFunc: okSend}, &MockAuthenticator{})

	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("a", "b", "c")},
		func(_ context.Context, res *transfer.Result) error {
			if res.Index != 1 {
				return nil
			}
			res.Success = false
			res.Receiver = "mallory"
			*res.ContractID = "00forged"
			msg := "rewritten"
			res.Error = &msg
			panic("callback exploded after mutating")
		})
	require.NoError(t, err)

	recorded := report.Results[1]
	assert.True(t, recorded.Success)
	assert.Equal(t, "b", recorded.Receiver)
	assert.Equal(t, "00instr-b", *recorded.ContractID)
	assert.Nil(t, recorded.Error)
	assert.Equal(t, 3, report.SuccessfulCount)
	assert.Equal(t, 0, report.FailedCount)
}

func TestResultClone(t *testing.T) {
	ref := "invoice-7"
	orig := &transfer.Result{Success: true, Receiver: "bob", Reference: &ref}
	cp := orig.Clone()
	*cp.Reference = "changed"
	cp.Receiver = "carol"

	assert.Equal(t, "invoice-7", *orig.Reference)
	assert.Equal(t, "bob", orig.Receiver)
	assert.Nil(t, (*transfer.Result)(nil).Clone())
}

func TestRun_References(t *testing.T) {
	var refs []string
	sender := &MockSender{SendFunc: func(ctx context.Context, req *transfer.SendRequest) (*transfer.Result, error) {
		refs = append(refs, req.Reference)
		return okSend(ctx, req)
	}}
	e, _ := New(sender, &MockAuthenticator{})

	req := &Request{
		Sender:        alice,
		ReferenceBase: "payroll-2026-10",
		Items: []Item{
			{Receiver: "bob", Amount: d("0.1")},
			{Receiver: "carol", Amount: d("0.1"), Reference: "custom"},
		},
	}
	_, err := e.Run(context.Background(), req, nil)
	require.NoError(t, err)

	want := base64.StdEncoding.EncodeToString([]byte("payroll-2026-10-" + alice + "-bob"))
	assert.Equal(t, []string{want, "custom"}, refs)
	assert.Equal(t, want, UniqueReference("payroll-2026-10", alice, "bob"))
}

func TestRun_CancelReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, _ := New(&MockSender{SendFunc: okSend}, &MockAuthenticator{})

	report, err := e.Run(ctx, &Request{Sender: alice, Items: items("a", "b", "c")},
		func(context.Context, *transfer.Result) error {
			cancel()
			return nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Results, 1)
}

func TestRun_SetupFailures(t *testing.T) {
	e, _ := New(&MockSender{SendFunc: okSend}, &MockAuthenticator{
		JWTSubjectFunc: func(context.Context) (string, error) {
			return "", sdkerrors.AuthError(errors.New("bad password"), "login failed")
		},
	})
	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("a")}, nil)
	assert.Nil(t, report)
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryAuth))

	tests := []struct {
		name string
		req  *Request
	}{
		{"nil", nil},
		{"no sender", &Request{Items: items("a")}},
		{"no items", &Request{Sender: alice}},
		{"zero amount", &Request{Sender: alice, Items: []Item{{Receiver: "a"}}}},
		{"no receiver", &Request{Sender: alice, Items: []Item{{Amount: d("1")}}}},
	}
	e, _ = New(&MockSender{}, &MockAuthenticator{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.req, nil)
			assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
		})
	}
}

func TestRun_ChainedReusesInputsAfterFailure(t *testing.T) {
	var inputs [][]string
	sender := &MockSender{
		SpendableFunc: func(context.Context, string) ([]holding.Holding, error) {
			return []holding.Holding{{ContractID: "00h1"}, {ContractID: "00h2"}}, nil
		},
		FactoryFunc: func(context.Context, *transfer.SendRequest, []string) (*registry.TransferFactory, error) {
			return &registry.TransferFactory{FactoryID: "00f"}, nil
		},
		ExecuteFunc: func(_ context.Context, req *transfer.SendRequest, in []string, _ *registry.TransferFactory) (*transfer.Outcome, error) {
			inputs = append(inputs, in)
			if req.Receiver == "bob" {
				return nil, errors.New("rejected")
			}
			return &transfer.Outcome{UpdateID: "u", InstructionCID: "00i", SenderChangeCIDs: []string{"00change-" + req.Receiver}}, nil
		},
	}
	e, _ := New(sender, &MockAuthenticator{})

	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("carol", "bob", "dave"), ChainChange: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SuccessfulCount)
	assert.Equal(t, [][]string{{"00h1", "00h2"}, {"00change-carol"}, {"00change-carol"}}, inputs)
}

func TestRun_ChainedWithoutHoldings(t *testing.T) {
	e, _ := New(&MockSender{}, &MockAuthenticator{})
	report, err := e.Run(context.Background(), &Request{Sender: alice, Items: items("a"), ChainChange: true}, nil)
	assert.Nil(t, report)
	var ibe *sdkerrors.InsufficientBalanceError
	assert.True(t, errors.As(err, &ibe))
}

func newLedgerEngine(t *testing.T) (*Engine, *ledgertest.Server) {
	t.Helper()
	srv := ledgertest.Start(t)
	l, err := ledger.New(srv.LedgerConfig())
	require.NoError(t, err)
	h, err := holding.New(nil, l)
	require.NoError(t, err)
	reg, err := registry.New(srv.RegistryConfig())
	require.NoError(t, err)
	sub, err := command.New(&command.Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, l)
	require.NoError(t, err)
	tc, err := transfer.New(l, h, reg, sub)
	require.NoError(t, err)
	e, err := New(tc, l)
	require.NoError(t, err)
	return e, srv
}

func TestRun_AgainstLedger(t *testing.T) {
	for _, chained := range []bool{false, true} {
		name := "selected"
		if chained {
			name = "chained"
		}
		t.Run(name, func(t *testing.T) {
			e, srv := newLedgerEngine(t)
			srv.AddHolding(alice, "0.5")
			srv.AddHolding(alice, "0.5")

			req := &Request{
				Sender: alice,
				Items: []Item{
					{Receiver: "bob::1220", Amount: d("0.1")},
					{Receiver: "carol::1220", Amount: d("5")},
					{Receiver: "dave::1220", Amount: d("0.3")},
				},
				ReferenceBase: "run-1",
				ChainChange:   chained,
			}
			callbacks := 0
			report, err := e.Run(context.Background(), req, func(context.Context, *transfer.Result) error {
				callbacks++
				return nil
			})
			require.NoError(t, err)

			assert.Equal(t, 3, callbacks)
			assert.Equal(t, 2, report.SuccessfulCount)
			assert.Equal(t, 1, report.FailedCount)
			assert.False(t, report.Results[1].Success)
			assert.True(t, srv.Balance(alice).Equal(d("0.6")))
			assert.Len(t, srv.ActiveContracts("dave::1220", ledgertest.TemplateTransferOffer), 1)
		})
	}
}
