package holding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "alice::1220"

func newTestClient(t *testing.T, mode QueryMode) (*Client, *ledgertest.Server) {
	t.Helper()
	srv := ledgertest.Start(t)
	l, err := ledger.New(srv.LedgerConfig())
	require.NoError(t, err)
	c, err := New(&Config{Mode: mode}, l)
	require.NoError(t, err)
	return c, srv
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(&Config{Mode: "guess"}, &ledger.Client{})
	assert.Error(t, err)
}

func TestList_BothModes(t *testing.T) {
	for _, mode := range []QueryMode{QueryByInterface, QueryByTemplate} {
		t.Run(string(mode), func(t *testing.T) {
			c, srv := newTestClient(t, mode)
			srv.AddHolding(alice, "0.5")
			srv.AddLockedHolding(alice, "2")
			srv.AddHolding("bob::1220", "7")

			hs, err := c.List(context.Background(), alice)
			require.NoError(t, err)
			require.Len(t, hs, 2)
			for _, h := range hs {
				assert.Equal(t, alice, h.Owner)
				assert.Equal(t, ledgertest.InstrumentID, h.InstrumentID)
				assert.Equal(t, ledgertest.Admin, h.InstrumentAdmin)
				assert.NotEmpty(t, h.CreatedEventBlob)
			}
		})
	}
}

func TestBalance(t *testing.T) {
	c, srv := newTestClient(t, QueryByInterface)
	srv.AddHolding(alice, "0.5")
	srv.AddHolding(alice, "0.25")
	srv.AddLockedHolding(alice, "2")
	srv.AddHoldingWith(alice, "USDC", "100", false)

	b, err := c.Balance(context.Background(), alice, DefaultInstrumentID)
	require.NoError(t, err)
	assert.Equal(t, "0.75", b.Total.String())
	assert.Equal(t, 2, b.Holdings)
	assert.Equal(t, 1, b.Locked)
}

func TestSelect_AgainstLedger(t *testing.T) {
	c, srv := newTestClient(t, QueryByInterface)
	big := srv.AddHolding(alice, "0.6")
	srv.AddHolding(alice, "0.3")
	srv.AddLockedHolding(alice, "5")

	sel, err := c.Select(context.Background(), alice, DefaultInstrumentID, d("0.5"))
	require.NoError(t, err)
	assert.Equal(t, []string{big}, sel.ContractIDs())
	assert.Equal(t, "0.1", sel.Change.String())
	assert.Equal(t, ledgertest.Admin, sel.Instrument().Admin)

	_, err = c.Select(context.Background(), alice, DefaultInstrumentID, d("1"))
	var ibe *sdkerrors.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, "0.9", ibe.Have.String())
}

func TestList_RequiresParty(t *testing.T) {
	c, _ := newTestClient(t, QueryByInterface)
	_, err := c.List(context.Background(), "")
	assert.True(t, sdkerrors.Is(err, sdkerrors.CategoryInvalidInput))
}

func TestDecode(t *testing.T) {
	ac := &ledger.ActiveContract{
		CreatedEvent: &ledger.CreatedEvent{
			ContractID:     "00h",
			TemplateID:     "pkg:Utility.Registry.Holding.V0.Holding:Holding",
			CreateArgument: json.RawMessage(`{"owner":"alice","instrument":{"admin":"adm","id":"CBTC"},"amount":"1.5000000000","lock":{"holders":["adm"]}}`),
		},
		SynchronizerID: "sync",
	}
	h, err := Decode(ac, InterfaceHolding)
	require.NoError(t, err)
	assert.True(t, h.Locked)
	assert.Equal(t, "1.5", h.Amount.String())
	assert.Equal(t, "sync", h.Disclosed().SynchronizerID)

	ac.CreatedEvent.CreateArgument = json.RawMessage(`{"owner":"alice","amount":"1"}`)
	_, err = Decode(ac, InterfaceHolding)
	assert.Error(t, err, "missing instrument")

	ac.CreatedEvent.CreateArgument = json.RawMessage(`{"owner":"alice","instrument":{"admin":"adm","id":"CBTC"},"amount":"abc"}`)
	_, err = Decode(ac, InterfaceHolding)
	assert.Error(t, err)
}
