package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClientGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gemma3:4b","message":{"role":"assistant","content":" Refunds are accepted within 30 days. "},"done":true,"prompt_eval_count":42,"eval_count":9}`))
	}))
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "gemma3:4b", 0.1, 100)
	require.NoError(t, err)

	gen, err := c.Generate(context.Background(), "refund policy", passages("Refunds within 30 days."))
	require.NoError(t, err)
	assert.Equal(t, "Refunds are accepted within 30 days.", gen.Answer)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 9}, gen.Usage)

	assert.Equal(t, "gemma3:4b", got["model"])
	assert.Equal(t, false, got["stream"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.True(t, strings.Contains(user, "Refunds within 30 days."))
	assert.True(t, strings.Contains(user, "Question: refund policy"))
}

func TestOllamaClientErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
		}))
		defer srv.Close()

		c, _ := NewOllamaClient(srv.URL, "m", 0.1, 0)
		_, err := c.Generate(context.Background(), "q", nil)
		assert.ErrorIs(t, err, ErrGenerationUnavailable)
	})

	t.Run("empty answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  "},"done":true}`))
		}))
		defer srv.Close()

		c, _ := NewOllamaClient(srv.URL, "m", 0.1, 0)
		_, err := c.Generate(context.Background(), "q", nil)
		assert.ErrorIs(t, err, ErrGenerationUnavailable)
	})

	t.Run("deadline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		c, _ := NewOllamaClient(srv.URL, "m", 0.1, 0)
		_, err := c.Generate(ctx, "q", nil)
		assert.ErrorIs(t, err, ErrGenerationTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		c, _ := NewOllamaClient("http://127.0.0.1:1", "m", 0.1, 0)
		_, err := c.Generate(context.Background(), "q", nil)
		assert.ErrorIs(t, err, ErrGenerationUnavailable)
	})
}

func TestNewOllamaClientRequiresModel(t *testing.T) {
	_, err := NewOllamaClient("http://localhost:11434", "", 0.1, 0)
	assert.Error(t, err)
}
