package command

import (
	"context"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
)

// MockLedger is a mock implementation of ledger.Ledger
type MockLedger struct {
	InvalidateTokenFunc    func()
	JWTSubjectFunc         func(ctx context.Context) (string, error)
	UserIDFunc             func(ctx context.Context) (string, error)
	GetLedgerEndFunc       func(ctx context.Context) (int64, error)
	GetActiveContractsFunc func(ctx context.Context, offset int64, parties []string, filter ledger.Filter) ([]*ledger.ActiveContract, error)
	SubmitFunc             func(ctx context.Context, req *ledger.SubmitRequest) (*ledger.TransactionTree, error)
}

func (m *MockLedger) InvalidateToken() {
	if m.InvalidateTokenFunc != nil {
		m.InvalidateTokenFunc()
	}
}

func (m *MockLedger) JWTSubject(ctx context.Context) (string, error) {
	if m.JWTSubjectFunc != nil {
		return m.JWTSubjectFunc(ctx)
	}
	return "", nil
}

func (m *MockLedger) UserID(ctx context.Context) (string, error) {
	if m.UserIDFunc != nil {
		return m.UserIDFunc(ctx)
	}
	return "", nil
}

func (m *MockLedger) GetLedgerEnd(ctx context.Context) (int64, error) {
	if m.GetLedgerEndFunc != nil {
		return m.GetLedgerEndFunc(ctx)
	}
	return 0, nil
}

func (m *MockLedger) GetActiveContracts(
	ctx context.Context,
	offset int64,
	parties []string,
	filter ledger.Filter,
) ([]*ledger.ActiveContract, error) {
	if m.GetActiveContractsFunc != nil {
		return m.GetActiveContractsFunc(ctx, offset, parties, filter)
	}
	return nil, nil
}

func (m *MockLedger) SubmitAndWaitForTransactionTree(ctx context.Context, req *ledger.SubmitRequest) (*ledger.TransactionTree, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return nil, nil
}
