package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	data := []byte(`
reference_base: payroll-2026-10
reason: October payroll
recipients:
  - party: bob::1220
    amount: "0.1"
  - party: carol::1220
    amount: "0.25"
    reference: invoice-7
`)
	req, err := parseRecipients(data, "alice::1220")
	require.NoError(t, err)

	assert.Equal(t, "alice::1220", req.Sender)
	assert.Equal(t, "payroll-2026-10", req.ReferenceBase)
	assert.Equal(t, "October payroll", req.Reason)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "bob::1220", req.Items[0].Receiver)
	assert.True(t, req.Items[1].Amount.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "invoice-7", req.Items[1].Reference)
}

func TestParseRecipients_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "recipients: []",
		"missing party":  "recipients: [{amount: \"1\"}]",
		"invalid amount": "recipients: [{party: bob, amount: lots}]",
		"not yaml":       "recipients: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseRecipients([]byte(doc), "alice::1220")
			assert.Error(t, err)
		})
	}
}

func TestAmountFlag(t *testing.T) {
	var a amountFlag
	require.NoError(t, a.UnmarshalFlag("0.00000001"))
	s, err := a.MarshalFlag()
	require.NoError(t, err)
	assert.Equal(t, "0.00000001", s)

	assert.Error(t, a.UnmarshalFlag("0"))
	assert.Error(t, a.UnmarshalFlag("-1"))
	assert.Error(t, a.UnmarshalFlag("abc"))
}
