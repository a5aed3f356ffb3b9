package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"faq-rag/internal/embeddings"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Upsert(ctx context.Context, passages []Passage) error {
	args := m.Called(ctx, passages)
	return args.Error(0)
}

func (m *MockStore) TopK(ctx context.Context, vector embeddings.Vector, k int) ([]SearchResult, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SearchResult), args.Error(1)
}

func (m *MockStore) DeleteSources(ctx context.Context, sourceIDs []string) error {
	args := m.Called(ctx, sourceIDs)
	return args.Error(0)
}

func (m *MockStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
