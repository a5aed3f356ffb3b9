package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"faq-rag/internal/embeddings"
)

func TestVectorToString(t *testing.T) {
	tests := []struct {
		in   embeddings.Vector
		want string
	}{
		{nil, "[]"},
		{embeddings.Vector{1}, "[1]"},
		{embeddings.Vector{0.5, -0.25, 0}, "[0.5,-0.25,0]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, vectorToString(tt.in))
	}
}

func TestNewPostgresRejectsBadDimension(t *testing.T) {
	_, err := NewPostgres("postgres://localhost/none", 0)
	assert.ErrorContains(t, err, "dimension")
}
