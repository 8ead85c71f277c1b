package holding

import (
	"sort"
	"strings"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"

	"github.com/shopspring/decimal"
)

// SelectFrom picks the holdings that cover target.
//
// Only unlocked holdings owned by party for instrumentID are eligible. They
// are taken largest first, ties broken by ascending contract id, and
// accumulation stops as soon as the running total reaches target. An
// InsufficientBalanceError reports the eligible total when it falls short.
func SelectFrom(holdings []Holding, party, instrumentID string, target decimal.Decimal) (*Selection, error) {
	if err := values.CheckAmount(target); err != nil {
		return nil, sdkerrors.InvalidInputError(err, "invalid target amount")
	}

	eligible := Eligible(holdings, party, instrumentID)
	SortForSelection(eligible)

	total := decimal.Zero
	for i, h := range eligible {
		total = total.Add(h.Amount)
		if total.GreaterThanOrEqual(target) {
			return &Selection{
				Selected: eligible[:i+1],
				Total:    total,
				Target:   target,
				Change:   total.Sub(target),
			}, nil
		}
	}

	return nil, &sdkerrors.InsufficientBalanceError{Have: total, Need: target}
}

// Eligible returns the unlocked holdings of party for instrumentID.
// An empty instrumentID matches any instrument.
func Eligible(holdings []Holding, party, instrumentID string) []Holding {
	out := make([]Holding, 0, len(holdings))
	for _, h := range holdings {
		if h.Locked || !h.Amount.IsPositive() {
			continue
		}
		if party != "" && h.Owner != party {
			continue
		}
		if instrumentID != "" && !strings.EqualFold(h.InstrumentID, instrumentID) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// SortForSelection orders holdings by amount descending, then contract id.
func SortForSelection(hs []Holding) {
	sort.SliceStable(hs, func(i, j int) bool {
		if c := hs[i].Amount.Cmp(hs[j].Amount); c != 0 {
			return c > 0
		}
		return hs[i].ContractID < hs[j].ContractID
	})
}

// Sum adds up the amounts of hs.
func Sum(hs []Holding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range hs {
		total = total.Add(h.Amount)
	}
	return total
}
