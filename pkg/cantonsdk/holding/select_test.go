package holding

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"

	"github.com/shopspring/decimal"
)

func h(cid, owner, amount string, locked bool) Holding {
	return Holding{
		ContractID:   cid,
		Owner:        owner,
		InstrumentID: DefaultInstrumentID,
		Amount:       decimal.RequireFromString(amount),
		Locked:       locked,
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSelectFrom(t *testing.T) {
	tests := []struct {
		name     string
		holdings []Holding
		target   string
		want     []string
		change   string
	}{
		{
			name:     "largest first",
			holdings: []Holding{h("00a", "alice", "0.3", false), h("00b", "alice", "0.5", false), h("00c", "alice", "0.2", false)},
			target:   "0.7",
			want:     []string{"00b", "00a"},
			change:   "0.1",
		},
		{
			name:     "exact single",
			holdings: []Holding{h("00a", "alice", "0.3", false), h("00b", "alice", "0.5", false)},
			target:   "0.5",
			want:     []string{"00b"},
			change:   "0",
		},
		{
			name:     "ties by contract id",
			holdings: []Holding{h("00c", "alice", "1", false), h("00a", "alice", "1", false), h("00b", "alice", "1", false)},
			target:   "1.5",
			want:     []string{"00a", "00b"},
			change:   "0.5",
		},
		{
			name: "locked and foreign holdings skipped",
			holdings: []Holding{
				h("00a", "alice", "5", true),
				h("00b", "bob", "5", false),
				h("00c", "alice", "0.002", false),
				h("00d", "alice", "0.001", false),
			},
			target: "0.002",
			want:   []string{"00c"},
			change: "0",
		},
		{
			name:     "smallest unit",
			holdings: []Holding{h("00a", "alice", "0.00000001", false), h("00b", "alice", "0.00000001", false)},
			target:   "0.00000002",
			want:     []string{"00a", "00b"},
			change:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := SelectFrom(tt.holdings, "alice", DefaultInstrumentID, d(tt.target))
			if err != nil {
				t.Fatalf("SelectFrom failed: %v", err)
			}
			got := sel.ContractIDs()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
			if !sel.Change.Equal(d(tt.change)) {
				t.Errorf("expected change %s, got %s", tt.change, sel.Change)
			}
			if !sel.Total.Sub(sel.Target).Equal(sel.Change) {
				t.Errorf("change %s does not match total %s - target %s", sel.Change, sel.Total, sel.Target)
			}
		})
	}
}

func TestSelectFrom_Insufficient(t *testing.T) {
	tests := []struct {
		name     string
		holdings []Holding
		have     string
	}{
		{"short", []Holding{h("00a", "alice", "0.3", false), h("00b", "alice", "0.4", true)}, "0.3"},
		{"no holdings", nil, "0"},
		{"all locked", []Holding{h("00a", "alice", "9", true)}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectFrom(tt.holdings, "alice", DefaultInstrumentID, d("1"))
			var ibe *sdkerrors.InsufficientBalanceError
			if !errors.As(err, &ibe) {
				t.Fatalf("expected InsufficientBalanceError, got %v", err)
			}
			if !ibe.Have.Equal(d(tt.have)) || !ibe.Need.Equal(d("1")) {
				t.Errorf("expected have %s need 1, got have %s need %s", tt.have, ibe.Have, ibe.Need)
			}
		})
	}
}

func TestSelectFrom_NonPositiveTarget(t *testing.T) {
	for _, target := range []string{"0", "-1", "0.00000000001"} {
		_, err := SelectFrom([]Holding{h("00a", "alice", "1", false)}, "alice", "", d(target))
		if !sdkerrors.Is(err, sdkerrors.CategoryInvalidInput) {
			t.Errorf("target %s: expected invalid input, got %v", target, err)
		}
	}
}

func TestEligible_InstrumentFilter(t *testing.T) {
	other := h("00x", "alice", "1", false)
	other.InstrumentID = "USDC"
	hs := []Holding{h("00a", "alice", "1", false), other}

	if got := Eligible(hs, "alice", "cbtc"); len(got) != 1 || got[0].ContractID != "00a" {
		t.Errorf("instrument filter is case-insensitive and exact: %v", got)
	}
	if got := Eligible(hs, "alice", ""); len(got) != 2 {
		t.Errorf("empty instrument matches all, got %d", len(got))
	}
	if !Sum(hs).Equal(d("2")) {
		t.Errorf("unexpected sum %s", Sum(hs))
	}
}

func TestSelectFrom_SmallestUnits(t *testing.T) {
	hs := []Holding{h("h1", "alice", "0.002", false), h("h2", "alice", "0.001", false)}

	sel, err := SelectFrom(hs, "alice", DefaultInstrumentID, d("0.001"))
	if err != nil {
		t.Fatalf("SelectFrom() error = %v", err)
	}
	if got := sel.ContractIDs(); len(got) != 1 || got[0] != "h1" {
		t.Errorf("selected %v, want [h1]", got)
	}
	if !sel.Change.Equal(d("0.001")) {
		t.Errorf("change = %s, want 0.001", sel.Change)
	}
}

func TestSelectFrom_GeneratedFixtures(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(12)
		hs := make([]Holding, 0, n)
		unlocked := decimal.Zero
		for i := 0; i < n; i++ {
			amount := decimal.New(1+rng.Int63n(1_000_000), -8)
			locked := rng.Intn(4) == 0
			owner := "alice"
			if rng.Intn(8) == 0 {
				owner = "bob"
			}
			hs = append(hs, Holding{
				ContractID:   fmt.Sprintf("%02d-%03d", round%100, i),
				Owner:        owner,
				InstrumentID: DefaultInstrumentID,
				Amount:       amount,
				Locked:       locked,
			})
			if !locked && owner == "alice" {
				unlocked = unlocked.Add(amount)
			}
		}
		target := decimal.New(1+rng.Int63n(3_000_000), -8)

		sel, err := SelectFrom(hs, "alice", DefaultInstrumentID, target)
		if unlocked.LessThan(target) {
			var ins *sdkerrors.InsufficientBalanceError
			if !errors.As(err, &ins) || !ins.Have.Equal(unlocked) || !ins.Need.Equal(target) {
				t.Fatalf("round %d: expected insufficient have %s need %s, got %v", round, unlocked, target, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("round %d: SelectFrom() error = %v", round, err)
		}

		total := decimal.Zero
		for i, got := range sel.Selected {
			if got.Locked || got.Owner != "alice" {
				t.Fatalf("round %d: selected ineligible holding %+v", round, got)
			}
			if i > 0 && got.Amount.GreaterThan(sel.Selected[i-1].Amount) {
				t.Fatalf("round %d: selection not largest first", round)
			}
			total = total.Add(got.Amount)
		}
		last := sel.Selected[len(sel.Selected)-1].Amount
		if !total.Sub(last).LessThan(target) {
			t.Errorf("round %d: selection not minimal: total %s, last %s, target %s", round, total, last, target)
		}
		if sel.Change.IsNegative() || !sel.Change.Equal(total.Sub(target)) || !sel.Total.Equal(total) {
			t.Errorf("round %d: change %s total %s target %s", round, sel.Change, total, target)
		}
	}
}

func TestSelectionStatus(t *testing.T) {
	_, err := SelectFrom(nil, "alice", "", d("0"))
	if got := selectionStatus(err); got != "invalid" {
		t.Errorf("non-positive target labeled %q", got)
	}
	_, err = SelectFrom(nil, "alice", "", d("1"))
	if got := selectionStatus(err); got != "insufficient" {
		t.Errorf("empty holdings labeled %q", got)
	}
	if got := selectionStatus(errors.New("boom")); got != "error" {
		t.Errorf("other errors labeled %q", got)
	}
}
