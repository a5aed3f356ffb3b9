package retriever

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRetriever is a mock implementation of Retriever using testify/mock.
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, text string, topK int) (Result, error) {
	args := m.Called(ctx, text, topK)
	return args.Get(0).(Result), args.Error(1)
}
