package attestor

import (
	"context"
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/values"
)

// Disclosures is everything a command needs beyond its own arguments:
// the contracts to disclose and, for burns, the choice context that
// references them.
type Disclosures struct {
	Kind      Kind
	Contracts []ledger.DisclosedContract
	Context   values.ChoiceContext

	// Target is the contract the command exercises: the rules contract for
	// account creation, the burn-mint factory for burns.
	Target ContractInfo
}

// Resolver resolves disclosures for an operation kind.
type Resolver interface {
	ResolveDisclosures(ctx context.Context, kind Kind) (*Disclosures, error)
}

// DisclosureResolver implements Resolver on top of an Attestor.
type DisclosureResolver struct {
	attestor Attestor
}

// NewResolver creates a DisclosureResolver.
func NewResolver(a Attestor) *DisclosureResolver {
	return &DisclosureResolver{attestor: a}
}

// ResolveDisclosures fetches fresh reference data for kind. Any attestor
// failure is returned as is (AttestorUnavailable) and nothing partial is
// produced.
func (r *DisclosureResolver) ResolveDisclosures(ctx context.Context, kind Kind) (*Disclosures, error) {
	switch kind {
	case KindDepositAccount, KindWithdrawAccount:
		rules, err := r.attestor.AccountRules(ctx)
		if err != nil {
			return nil, err
		}
		target := rules.DepositRules
		if kind == KindWithdrawAccount {
			target = rules.WithdrawRules
		}
		return &Disclosures{
			Kind:      kind,
			Contracts: []ledger.DisclosedContract{target.Disclosed()},
			Context:   values.EmptyChoiceContext(),
			Target:    target,
		}, nil

	case KindBurn:
		tsc, err := r.attestor.TokenStandardContracts(ctx)
		if err != nil {
			return nil, err
		}
		return BurnDisclosures(tsc), nil

	default:
		return nil, fmt.Errorf("unknown disclosure kind %d", kind)
	}
}

// BurnDisclosures assembles the disclosed contracts and choice context for a
// burn. Optional slots that are absent appear in neither.
func BurnDisclosures(tsc *TokenStandardContracts) *Disclosures {
	d := &Disclosures{
		Kind: KindBurn,
		Contracts: []ledger.DisclosedContract{
			tsc.BurnMintFactory.Disclosed(),
			tsc.InstrumentConfiguration.Disclosed(),
		},
		Context: values.ChoiceContext{Values: map[string]values.AnyValue{
			ContextKeyInstrumentConfiguration: values.ContractIDValue(tsc.InstrumentConfiguration.ContractID),
		}},
		Target: tsc.BurnMintFactory,
	}

	if ic, ok := tsc.IssuerCredential.Get(); ok {
		d.Contracts = append(d.Contracts, ic.Disclosed())
		d.Context.Values[ContextKeyIssuerCredentials] = values.ListValue(values.ContractIDValue(ic.ContractID))
	}
	if arc, ok := tsc.AppRewardConfiguration.Get(); ok {
		d.Contracts = append(d.Contracts, arc.Disclosed())
		d.Context.Values[ContextKeyAppRewardConfiguration] = values.ContractIDValue(arc.ContractID)
	}
	if far, ok := tsc.FeaturedAppRight.Get(); ok {
		d.Contracts = append(d.Contracts, far.Disclosed())
		d.Context.Values[ContextKeyFeaturedAppRight] = values.ContractIDValue(far.ContractID)
	}
	return d
}
