// Package values provides helpers for encoding and decoding Daml values in
// the JSON Ledger API representation.
//
// Numeric values are always carried as decimal strings so that no amount
// ever passes through a binary floating point representation.
package values

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NumericScale is the number of fractional digits of the ledger's Numeric 10
// type used for token amounts.
const NumericScale = 10

// CheckAmount reports whether d is a positive amount the ledger can represent
// exactly.
func CheckAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if d.Exponent() < -NumericScale && !d.Equal(d.Truncate(NumericScale)) {
		return fmt.Errorf("amount %s has more than %d decimal places", d.String(), NumericScale)
	}
	return nil
}

// Numeric encodes an exact decimal as the fixed-point string the ledger
// expects, e.g. 1e-8 becomes "0.00000001".
func Numeric(d decimal.Decimal) string {
	return d.String()
}

// ParseNumeric parses a ledger numeric string.
func ParseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// ContractIDs converts a list of contract ids to the list shape used in
// choice arguments. A nil input yields an empty list, never null.
func ContractIDs(cids []string) []string {
	if cids == nil {
		return []string{}
	}
	return cids
}
