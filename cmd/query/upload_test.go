package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"faq-rag/internal/embeddings"
	"faq-rag/internal/llm"
	"faq-rag/internal/queue"
	"faq-rag/internal/retriever"
)

func multipartRequest(t *testing.T, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledge", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

const faqFile = "## What is the refund policy?\nRefunds within 30 days.\n"

func TestUploadHandler(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		content     []byte
		distributed bool
		setup       func(*queue.MockQueue, *embeddings.MockEmbedder)
		wantStatus  int
		wantBody    map[string]any
	}{
		{
			name:        "indexes in-process without a broker",
			filename:    "faq.md",
			contentType: "text/markdown",
			content:     []byte(faqFile),
			setup: func(q *queue.MockQueue, e *embeddings.MockEmbedder) {
				e.On("EmbedBatch", mock.Anything, mock.Anything).Return([]embeddings.Vector{{1, 0}}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "indexed", "passages": float64(1)},
		},
		{
			name:        "hands off to the indexer with a broker",
			filename:    "faq.md",
			content:     []byte(faqFile),
			distributed: true,
			setup: func(q *queue.MockQueue, e *embeddings.MockEmbedder) {
				q.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					var p queue.IndexPayload
					return task.Type == queue.TaskTypeIndex && json.Unmarshal(task.Payload, &p) == nil && p.Name == "faq.md"
				})).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
			wantBody:   map[string]any{"status": "queued"},
		},
		{
			name:        "enqueue failure",
			filename:    "faq.txt",
			contentType: "text/plain",
			content:     []byte("Refunds within 30 days."),
			distributed: true,
			setup: func(q *queue.MockQueue, e *embeddings.MockEmbedder) {
				q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("nats down")).Times(3)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "file too large",
			filename:   "large.txt",
			content:    make([]byte, 2048),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported extension",
			filename:   "faq.docx",
			content:    []byte("content"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "content type does not match extension",
			filename:    "faq.pdf",
			contentType: "text/plain",
			content:     []byte("content"),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "embedding failure",
			filename:    "faq.md",
			contentType: "text/markdown",
			content:     []byte(faqFile),
			setup: func(q *queue.MockQueue, e *embeddings.MockEmbedder) {
				e.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil, errors.New("ollama down")).Once()
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(queue.MockQueue)
			e := new(embeddings.MockEmbedder)
			if tt.setup != nil {
				tt.setup(q, e)
			}
			deps := newTestDeps(t, new(retriever.MockRetriever), new(llm.MockGenerator))
			deps.Config.MaxUploadSize = 1024
			deps.Embedder = e
			deps.Queue = q
			if tt.distributed {
				deps.Config.QueueProvider = "nats"
			}

			w := httptest.NewRecorder()
			uploadHandler(deps)(w, multipartRequest(t, tt.filename, tt.contentType, tt.content))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != nil {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				for k, v := range tt.wantBody {
					assert.Equal(t, v, body[k], k)
				}
			}
			q.AssertExpectations(t)
			e.AssertExpectations(t)
		})
	}
}

func TestUploadedFileIsServedAfterIndexing(t *testing.T) {
	deps := newTestDeps(t, new(retriever.MockRetriever), new(llm.MockGenerator))
	e := new(embeddings.MockEmbedder)
	e.On("EmbedBatch", mock.Anything, mock.Anything).Return([]embeddings.Vector{{1, 0}}, nil).Once()
	deps.Embedder = e

	w := httptest.NewRecorder()
	newRouter(deps).ServeHTTP(w, multipartRequest(t, "faq.md", "", []byte(faqFile)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	n, err := deps.Index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
