package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"faq-rag/internal/app"
	"faq-rag/internal/cache"
	"faq-rag/internal/config"
	"faq-rag/internal/embeddings"
	"faq-rag/internal/knowledge"
	"faq-rag/internal/logger"
	"faq-rag/internal/metrics"
	"faq-rag/internal/queue"
	"faq-rag/internal/store"
)

func newTestDeps(st store.Store, e embeddings.Embedder, q queue.Queue) *app.Deps {
	return &app.Deps{
		Config:   config.Config{QueueProvider: "nats"},
		Log:      logger.Discard(),
		Metrics:  metrics.New(),
		Cache:    cache.NewMemoryStore(),
		Index:    st,
		Embedder: e,
		Queue:    q,
	}
}

func generateLongText(words int) string {
	return strings.Repeat("refunds are processed within thirty days ", words/6)
}

func TestHandleIndex(t *testing.T) {
	tests := []struct {
		name    string
		payload queue.IndexPayload
		setup   func(*testing.T, *store.MockStore, *embeddings.MockEmbedder, *queue.MockQueue)
		wantErr bool
	}{
		{
			name:    "faq file is indexed and invalidation broadcast",
			payload: queue.IndexPayload{Name: "faq.md", Content: []byte("## Refunds?\nWithin 30 days.\n")},
			setup: func(t *testing.T, s *store.MockStore, e *embeddings.MockEmbedder, q *queue.MockQueue) {
				e.On("EmbedBatch", mock.Anything, []string{"Question: Refunds?\nAnswer: Within 30 days."}).
					Return([]embeddings.Vector{{1, 0}}, nil).Once()
				s.On("DeleteSources", mock.Anything, []string{"faq.md"}).Return(nil).Once()
				s.On("Upsert", mock.Anything, mock.MatchedBy(func(p []store.Passage) bool { return len(p) == 1 })).Return(nil).Once()
				q.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					return task.Type == queue.TaskTypeInvalidate
				})).Return(nil).Once()
			},
		},
		{
			name:    "long text is chunked into several passages",
			payload: queue.IndexPayload{Name: "manual.txt", Content: []byte(generateLongText(1200))},
			setup: func(t *testing.T, s *store.MockStore, e *embeddings.MockEmbedder, q *queue.MockQueue) {
				doc, err := knowledge.Parse("manual.txt", []byte(generateLongText(1200)))
				require.NoError(t, err)
				require.Greater(t, len(doc.Passages), 1)
				vectors := make([]embeddings.Vector, len(doc.Passages))
				for i := range vectors {
					vectors[i] = embeddings.Vector{1, 0}
				}
				e.On("EmbedBatch", mock.Anything, doc.Passages).Return(vectors, nil).Once()
				s.On("DeleteSources", mock.Anything, mock.Anything).Return(nil).Once()
				s.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()
				q.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:    "missing name",
			payload: queue.IndexPayload{Content: []byte("x")},
			wantErr: true,
		},
		{
			name:    "unsupported file type",
			payload: queue.IndexPayload{Name: "faq.docx", Content: []byte("x")},
			wantErr: true,
		},
		{
			name:    "store failure skips invalidation",
			payload: queue.IndexPayload{Name: "faq.md", Content: []byte("## Refunds?\nWithin 30 days.\n")},
			setup: func(t *testing.T, s *store.MockStore, e *embeddings.MockEmbedder, q *queue.MockQueue) {
				e.On("EmbedBatch", mock.Anything, mock.Anything).Return([]embeddings.Vector{{1, 0}}, nil).Once()
				s.On("DeleteSources", mock.Anything, mock.Anything).Return(errors.New("db error")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(store.MockStore)
			e := new(embeddings.MockEmbedder)
			q := new(queue.MockQueue)
			if tt.setup != nil {
				tt.setup(t, s, e, q)
			}

			err := handleIndex(context.Background(), newTestDeps(s, e, q), tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("handleIndex() error = %v, wantErr %v", err, tt.wantErr)
			}

			s.AssertExpectations(t)
			e.AssertExpectations(t)
			q.AssertExpectations(t)
		})
	}
}

func TestHealthRouter(t *testing.T) {
	s := new(store.MockStore)
	s.On("Count", mock.Anything).Return(3, nil).Once()
	s.On("Count", mock.Anything).Return(0, errors.New("db down")).Once()
	deps := newTestDeps(s, new(embeddings.MockEmbedder), new(queue.MockQueue))
	router := newHealthRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
