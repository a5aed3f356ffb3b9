package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"faq-rag/internal/fingerprint"
)

// MockStore is a mock implementation of the Store interface for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, hash string) (*Entry, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Entry), args.Error(1)
}

func (m *MockStore) GetNearDuplicate(ctx context.Context, sig fingerprint.Signature, threshold float64) (*Entry, float64, error) {
	args := m.Called(ctx, sig, threshold)
	if args.Get(0) == nil {
		return nil, args.Get(1).(float64), args.Error(2)
	}
	return args.Get(0).(*Entry), args.Get(1).(float64), args.Error(2)
}

func (m *MockStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	args := m.Called(ctx, entry, ttl)
	return args.Error(0)
}

func (m *MockStore) Evict(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Stats() Stats {
	args := m.Called()
	return args.Get(0).(Stats)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
