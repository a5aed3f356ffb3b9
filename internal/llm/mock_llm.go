package llm

import (
	"context"

	"github.com/stretchr/testify/mock"

	"faq-rag/internal/retriever"
)

// MockGenerator is a mock implementation of Generator using testify/mock.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, question string, passages []retriever.Passage) (Generation, error) {
	args := m.Called(ctx, question, passages)
	return args.Get(0).(Generation), args.Error(1)
}
