package batch

import (
	"context"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/holding"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"
	"github.com/chainsafe/canton-cbtc/pkg/cbtc/transfer"
)

// MockSender is a mock implementation of Sender
type MockSender struct {
	SendFunc      func(ctx context.Context, req *transfer.SendRequest) (*transfer.Result, error)
	LockFunc      func(ctx context.Context, party string) (func(), error)
	SpendableFunc func(ctx context.Context, party string) ([]holding.Holding, error)
	FactoryFunc   func(ctx context.Context, req *transfer.SendRequest, inputs []string) (*registry.TransferFactory, error)
	ExecuteFunc   func(ctx context.Context, req *transfer.SendRequest, inputs []string, factory *registry.TransferFactory) (*transfer.Outcome, error)
}

func (m *MockSender) Send(ctx context.Context, req *transfer.SendRequest) (*transfer.Result, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockSender) Lock(ctx context.Context, party string) (func(), error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, party)
	}
	return func() {}, nil
}

func (m *MockSender) Spendable(ctx context.Context, party string) ([]holding.Holding, error) {
	if m.SpendableFunc != nil {
		return m.SpendableFunc(ctx, party)
	}
	return nil, nil
}

func (m *MockSender) Factory(ctx context.Context, req *transfer.SendRequest, inputs []string) (*registry.TransferFactory, error) {
	if m.FactoryFunc != nil {
		return m.FactoryFunc(ctx, req, inputs)
	}
	return nil, nil
}

func (m *MockSender) Execute(
	ctx context.Context,
	req *transfer.SendRequest,
	inputs []string,
	factory *registry.TransferFactory,
) (*transfer.Outcome, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req, inputs, factory)
	}
	return nil, nil
}

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	JWTSubjectFunc func(ctx context.Context) (string, error)
}

func (m *MockAuthenticator) JWTSubject(ctx context.Context) (string, error) {
	if m.JWTSubjectFunc != nil {
		return m.JWTSubjectFunc(ctx)
	}
	return "user", nil
}
