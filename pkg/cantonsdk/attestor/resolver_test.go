package attestor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"
)

type MockAttestor struct {
	AccountRulesFunc           func(ctx context.Context) (*AccountRules, error)
	TokenStandardContractsFunc func(ctx context.Context) (*TokenStandardContracts, error)
	BitcoinAddressFunc         func(ctx context.Context, accountID string) (string, error)
}

func (m *MockAttestor) AccountRules(ctx context.Context) (*AccountRules, error) {
	if m.AccountRulesFunc != nil {
		return m.AccountRulesFunc(ctx)
	}
	return nil, nil
}

func (m *MockAttestor) TokenStandardContracts(ctx context.Context) (*TokenStandardContracts, error) {
	if m.TokenStandardContractsFunc != nil {
		return m.TokenStandardContractsFunc(ctx)
	}
	return nil, nil
}

func (m *MockAttestor) BitcoinAddress(ctx context.Context, accountID string) (string, error) {
	if m.BitcoinAddressFunc != nil {
		return m.BitcoinAddressFunc(ctx, accountID)
	}
	return "", nil
}

func (m *MockAttestor) Chain() string { return "canton-testnet" }

func contract(cid string) ContractInfo {
	return ContractInfo{ContractID: cid, TemplateID: "#pkg:Mod:T", CreatedEventBlob: "blob"}
}

func TestResolveDisclosures_Accounts(t *testing.T) {
	r := NewResolver(&MockAttestor{
		AccountRulesFunc: func(context.Context) (*AccountRules, error) {
			return &AccountRules{DepositRules: contract("00da"), WithdrawRules: contract("00wa")}, nil
		},
	})

	d, err := r.ResolveDisclosures(context.Background(), KindDepositAccount)
	if err != nil {
		t.Fatalf("ResolveDisclosures failed: %v", err)
	}
	if d.Target.ContractID != "00da" || len(d.Contracts) != 1 || d.Contracts[0].ContractID != "00da" {
		t.Errorf("unexpected deposit disclosures: %+v", d)
	}

	d, err = r.ResolveDisclosures(context.Background(), KindWithdrawAccount)
	if err != nil {
		t.Fatalf("ResolveDisclosures failed: %v", err)
	}
	if d.Target.ContractID != "00wa" {
		t.Errorf("expected withdraw rules target, got %s", d.Target.ContractID)
	}
}

func TestResolveDisclosures_PropagatesFailure(t *testing.T) {
	down := sdkerrors.AttestorUnavailableError(errors.New("down"))
	r := NewResolver(&MockAttestor{
		TokenStandardContractsFunc: func(context.Context) (*TokenStandardContracts, error) { return nil, down },
	})

	d, err := r.ResolveDisclosures(context.Background(), KindBurn)
	if d != nil {
		t.Errorf("expected no partial disclosures, got %+v", d)
	}
	if !sdkerrors.Is(err, sdkerrors.CategoryAttestorUnavailable) {
		t.Errorf("expected attestor unavailable, got %v", err)
	}

	if _, err := r.ResolveDisclosures(context.Background(), Kind(42)); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestBurnDisclosures(t *testing.T) {
	tests := []struct {
		name     string
		tsc      *TokenStandardContracts
		contexts []string
		disclose int
	}{
		{
			name:     "required only",
			tsc:      &TokenStandardContracts{BurnMintFactory: contract("00bmf"), InstrumentConfiguration: contract("00ic")},
			contexts: []string{ContextKeyInstrumentConfiguration},
			disclose: 2,
		},
		{
			name: "all slots",
			tsc: &TokenStandardContracts{
				BurnMintFactory:         contract("00bmf"),
				InstrumentConfiguration: contract("00ic"),
				IssuerCredential:        Some(contract("00cred")),
				AppRewardConfiguration:  Some(contract("00arc")),
				FeaturedAppRight:        Some(contract("00far")),
			},
			contexts: []string{
				ContextKeyInstrumentConfiguration,
				ContextKeyIssuerCredentials,
				ContextKeyAppRewardConfiguration,
				ContextKeyFeaturedAppRight,
			},
			disclose: 5,
		},
		{
			name: "credential only",
			tsc: &TokenStandardContracts{
				BurnMintFactory:         contract("00bmf"),
				InstrumentConfiguration: contract("00ic"),
				IssuerCredential:        Some(contract("00cred")),
			},
			contexts: []string{ContextKeyInstrumentConfiguration, ContextKeyIssuerCredentials},
			disclose: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := BurnDisclosures(tt.tsc)
			if d.Target.ContractID != "00bmf" {
				t.Errorf("expected factory target, got %s", d.Target.ContractID)
			}
			if len(d.Contracts) != tt.disclose {
				t.Errorf("expected %d disclosed contracts, got %d", tt.disclose, len(d.Contracts))
			}
			if len(d.Context.Values) != len(tt.contexts) {
				t.Errorf("expected %d context entries, got %d", len(tt.contexts), len(d.Context.Values))
			}
			for _, k := range tt.contexts {
				if _, ok := d.Context.Values[k]; !ok {
					t.Errorf("missing context entry %s", k)
				}
			}
		})
	}
}

func TestBurnDisclosures_CredentialIsList(t *testing.T) {
	d := BurnDisclosures(&TokenStandardContracts{
		BurnMintFactory:         contract("00bmf"),
		InstrumentConfiguration: contract("00ic"),
		IssuerCredential:        Some(contract("00cred")),
	})
	b, err := json.Marshal(d.Context.Values[ContextKeyIssuerCredentials])
	if err != nil {
		t.Fatal(err)
	}
	want := `{"tag":"AV_List","value":[{"tag":"AV_ContractId","value":"00cred"}]}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
