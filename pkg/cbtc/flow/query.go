package flow

import (
	"context"
	"fmt"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"go.uber.org/zap"
)

// Active returns the active contracts of templateID visible to party at the
// current ledger end, decoded with decode. Contracts that fail to decode are
// logged and skipped.
func Active[T any](
	ctx context.Context,
	l ledger.Ledger,
	logger *zap.Logger,
	party string,
	templateID string,
	decode func(*ledger.ActiveContract) (T, error),
) ([]T, error) {
	end, err := l.GetLedgerEnd(ctx)
	if err != nil {
		return nil, err
	}

	contracts, err := l.GetActiveContracts(ctx, end, []string{party}, ledger.TemplateFilter(templateID))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", templateID, err)
	}

	out := make([]T, 0, len(contracts))
	for _, ac := range contracts {
		v, err := decode(ac)
		if err != nil {
			logger.Warn("skipping undecodable contract",
				zap.String("template_id", templateID),
				zap.String("contract_id", ac.CreatedEvent.ContractID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
