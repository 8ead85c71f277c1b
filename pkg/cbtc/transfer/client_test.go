package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/command"
	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/ledgertest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice::1220"
	bob   = "bob::1220"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestClient(t *testing.T) (*Client, *ledgertest.Server) {
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

	c, err := New(l, h, reg, sub)
	require.NoError(t, err)
	return c, srv
}

func send(t *testing.T, c *Client, from, to, amount string) *Result {
	t.Helper()
	res, err := c.Send(context.Background(), &SendRequest{Sender: from, Receiver: to, Amount: d(amount)})
	require.NoError(t, err)
	return res
}

func TestSend_AndAccept(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "1")

	res, err := c.Send(context.Background(), &SendRequest{
		Sender:    alice,
		Receiver:  bob,
		Amount:    d("0.3"),
		Reference: "invoice-7",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.ContractID)
	require.NotNil(t, res.UpdateID)
	require.NotNil(t, res.RawResponse)
	assert.Equal(t, "invoice-7", *res.Reference)
	assert.Nil(t, res.Error)
	assert.True(t, srv.Balance(alice).Equal(d("0.7")))

	out, err := c.ListOutgoing(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, out, 1)

	in, err := c.ListIncoming(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, *res.ContractID, in[0].ContractID)
	assert.Equal(t, "invoice-7", in[0].Reference)
	assert.True(t, in[0].Amount.Equal(d("0.3")))

	ar, err := c.Accept(context.Background(), bob, in[0].ContractID)
	require.NoError(t, err)
	assert.True(t, ar.Success)
	assert.True(t, srv.Balance(bob).Equal(d("0.3")))

	in, err = c.ListIncoming(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestSend_Insufficient(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "0.1")
	srv.AddLockedHolding(alice, "1")

	_, err := c.Send(context.Background(), &SendRequest{Sender: alice, Receiver: bob, Amount: d("0.5")})
	var ibe *sdkerrors.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.True(t, ibe.Have.Equal(d("0.1")))
	assert.Equal(t, 0, srv.Submissions())

	_, err = c.Send(context.Background(), &SendRequest{Sender: alice, Receiver: bob})
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))

	_, err = c.Send(context.Background(), &SendRequest{Sender: alice, Receiver: bob, Amount: d("0.00000000001")})
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
	assert.Equal(t, 0, srv.Submissions())
}

func TestWithdrawOffer(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "1")
	res := send(t, c, alice, bob, "0.4")

	_, err := c.WithdrawOffer(context.Background(), alice, *res.ContractID)
	require.NoError(t, err)
	assert.True(t, srv.Balance(alice).Equal(d("1")))

	out, err := c.ListOutgoing(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = c.Accept(context.Background(), bob, *res.ContractID)
	assert.Error(t, err, "withdrawn offers cannot be accepted")
}

func TestAcceptAll_Chunks(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "10")
	for i := 0; i < AcceptChunkSize+2; i++ {
		send(t, c, alice, bob, "0.1")
	}
	before := srv.Submissions()

	res, err := c.AcceptAll(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, AcceptChunkSize+2, res.SuccessfulCount)
	assert.Zero(t, res.FailedCount)
	assert.Equal(t, 2, srv.Submissions()-before, "one transaction per chunk")
	assert.True(t, srv.Balance(bob).Equal(d("0.7")))
}

func TestAcceptAll_ContextFailureIsolated(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "1")
	for i := 0; i < 3; i++ {
		send(t, c, alice, bob, "0.1")
	}
	srv.FailNext(ledgertest.RouteChoiceContext, http.StatusInternalServerError)

	res, err := c.AcceptAll(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Len(t, res.Results, 3)
	for _, r := range res.Results {
		if !r.Success {
			assert.NotEmpty(t, r.Error)
		}
	}
}

func TestAcceptAll_FallsBackToSingleAccepts(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "1")
	for i := 0; i < 3; i++ {
		send(t, c, alice, bob, "0.1")
	}
	before := srv.Submissions()
	srv.FailNext(ledgertest.RouteSubmit, http.StatusBadRequest)

	res, err := c.AcceptAll(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessfulCount)
	assert.Equal(t, 3, srv.Submissions()-before)
}

func TestAcceptAll_Empty(t *testing.T) {
	c, _ := newTestClient(t)
	res, err := c.AcceptAll(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestConsolidate(t *testing.T) {
	c, srv := newTestClient(t)
	for _, a := range []string{"0.1", "0.2", "0.3", "0.4"} {
		srv.AddHolding(alice, a)
	}
	srv.AddLockedHolding(alice, "5")

	res, err := c.Consolidate(context.Background(), alice, 5)
	require.NoError(t, err)
	assert.False(t, res.Consolidated)
	assert.Equal(t, 4, res.Before)
	assert.Equal(t, 0, srv.Submissions())

	res, err = c.Consolidate(context.Background(), alice, 4)
	require.NoError(t, err)
	assert.True(t, res.Consolidated)
	assert.Equal(t, 4, res.Before)
	assert.Equal(t, 1, res.After)
	require.Len(t, res.HoldingCIDs, 1)
	assert.True(t, srv.Balance(alice).Equal(d("6")), "locked holding untouched")

	_, err = c.Consolidate(context.Background(), alice, 1)
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
}

func TestSplit(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "1")

	res, err := c.Split(context.Background(), alice, []decimal.Decimal{d("0.1"), d("0.2")})
	require.NoError(t, err)
	assert.Len(t, res.OutputHoldingCIDs, 2)
	assert.Len(t, res.ChangeHoldingCIDs, 1)
	assert.Len(t, srv.ActiveContracts(alice, ledgertest.TemplateHolding), 3)
	assert.True(t, srv.Balance(alice).Equal(d("1")))

	hs, err := c.Spendable(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, hs, 3)
	assert.True(t, hs[0].Amount.Equal(d("0.7")), "largest first")
}

func TestSplit_ExactLeavesNoChange(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddHolding(alice, "0.3")

	res, err := c.Split(context.Background(), alice, []decimal.Decimal{d("0.1"), d("0.2")})
	require.NoError(t, err)
	assert.Len(t, res.OutputHoldingCIDs, 2)
	assert.Empty(t, res.ChangeHoldingCIDs)

	_, err = c.Split(context.Background(), alice, []decimal.Decimal{d("0")})
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
}

func TestSend_ExecuteWindow(t *testing.T) {
	srv := ledgertest.Start(t)
	l, err := ledger.New(srv.LedgerConfig())
	require.NoError(t, err)
	h, err := holding.New(nil, l)
	require.NoError(t, err)
	reg, err := registry.New(srv.RegistryConfig())
	require.NoError(t, err)
	sub, err := command.New(nil, l)
	require.NoError(t, err)

	now := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	c, err := New(l, h, reg, sub, WithClock(func() time.Time { return now }), WithExecuteWindow(2*time.Hour))
	require.NoError(t, err)

	srv.AddHolding(alice, "1")
	send(t, c, alice, bob, "0.5")

	var arg struct {
		Transfer struct {
			RequestedAt   time.Time `json:"requestedAt"`
			ExecuteBefore time.Time `json:"executeBefore"`
		} `json:"transfer"`
	}
	require.NoError(t, json.Unmarshal(srv.LastChoiceArgument(registry.ChoiceTransferFactoryTransfer), &arg))
	assert.True(t, arg.Transfer.RequestedAt.Equal(now))
	assert.True(t, arg.Transfer.ExecuteBefore.Equal(now.Add(2*time.Hour)))
}
