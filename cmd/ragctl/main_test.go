package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"faq-rag/internal/app"
	"faq-rag/internal/cache"
	"faq-rag/internal/config"
	"faq-rag/internal/embeddings"
	"faq-rag/internal/fingerprint"
	"faq-rag/internal/llm"
	"faq-rag/internal/logger"
	"faq-rag/internal/metrics"
	"faq-rag/internal/pipeline"
	"faq-rag/internal/queue"
	"faq-rag/internal/retriever"
	"faq-rag/internal/store"
)

type fixture struct {
	deps      *app.Deps
	retriever *retriever.MockRetriever
	generator *llm.MockGenerator
	embedder  *embeddings.MockEmbedder
	queue     *queue.MockQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		retriever: new(retriever.MockRetriever),
		generator: new(llm.MockGenerator),
		embedder:  new(embeddings.MockEmbedder),
		queue:     new(queue.MockQueue),
	}
	f.queue.On("Close").Return(nil).Maybe()

	cfg := config.Config{
		CacheProvider:       "memory",
		QueueProvider:       "none",
		MaxTopK:             10,
		CacheTTL:            time.Hour,
		NearDuplicate:       true,
		SimilarityThreshold: 0.85,
		RetrievalTimeout:    time.Second,
		GenerationTimeout:   time.Second,
		FollowerMargin:      time.Second,
	}
	log := logger.Discard()
	fp, err := fingerprint.New(fingerprint.Options{})
	require.NoError(t, err)
	m := metrics.New()
	c := cache.NewMemoryStore()

	f.deps = &app.Deps{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		Cache:    c,
		Index:    store.NewMemoryStore(0),
		Embedder: f.embedder,
		Queue:    f.queue,
		Pipeline: pipeline.NewService(fp, c, f.retriever, f.generator, pipeline.OptionsFromConfig(cfg), log, m),
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func() (*app.Deps, error) { return f.deps, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var refund = retriever.Result{Passages: []retriever.Passage{
	{ID: "p-refund", SourceID: "faq.md", Text: "Refunds within 30 days.", Score: 0.9},
}}

func TestAskCommand(t *testing.T) {
	f := newFixture(t)
	f.retriever.On("Retrieve", mock.Anything, "What is the refund policy?", 2).Return(refund, nil).Once()
	f.generator.On("Generate", mock.Anything, "What is the refund policy?", refund.Passages).
		Return(llm.Generation{Answer: "Refunds within 30 days.", Usage: llm.Usage{PromptTokens: 40, CompletionTokens: 6}}, nil).Once()

	out, err := f.run(t, "ask", "--top-k", "2", "What", "is", "the", "refund", "policy?")
	require.NoError(t, err)
	assert.Contains(t, out, "Refunds within 30 days.")
	assert.Contains(t, out, "generated")
	assert.Contains(t, out, "passages p-refund")
	assert.Contains(t, out, "tokens 40/6")

	f.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(refund, nil).Maybe()
	out, err = f.run(t, "ask", "what's your refund policy?")
	require.NoError(t, err)
	assert.Contains(t, out, "near-duplicate cache hit")

	f.generator.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAskCommandErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "ask", "--top-k", "11", "refunds")
	assert.ErrorContains(t, err, "at most 10")

	_, err = f.run(t, "ask", "???")
	assert.ErrorContains(t, err, string(pipeline.KindInvalidQuestion))

	f.retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(retriever.Result{}, retriever.ErrRetrievalUnavailable)
	_, err = f.run(t, "ask", "refund policy")
	assert.ErrorContains(t, err, string(pipeline.KindRetrievalUnavailable))

	_, err = f.run(t, "ask")
	assert.Error(t, err)
}

func TestIndexCommand(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "faq.md")
	require.NoError(t, os.WriteFile(path, []byte("## What is the refund policy?\nRefunds within 30 days.\n"), 0o600))
	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return([]embeddings.Vector{{1, 0}}, nil).Once()
	require.NoError(t, f.deps.Cache.Put(context.Background(), &cache.Entry{Hash: "stale", Answer: "old"}, time.Hour))

	out, err := f.run(t, "index", path)
	require.NoError(t, err)
	assert.Contains(t, out, "faq.md (1 passages)")

	n, _ := f.deps.Index.Count(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), f.deps.Cache.Stats().Entries, "reindex flushes the cache")

	_, err = f.run(t, "index", filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestIndexCommandRemote(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("Refunds within 30 days."), 0o600))

	_, err := f.run(t, "index", "--remote", path)
	assert.ErrorContains(t, err, "QUEUE_PROVIDER=nats")

	f.deps.Config.QueueProvider = "nats"
	f.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
		return task.Type == queue.TaskTypeIndex
	})).Return(nil).Once()

	out, err := f.run(t, "index", "--remote", path)
	require.NoError(t, err)
	assert.Contains(t, out, "queued faq.txt")
	f.embedder.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestCacheCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deps.Cache.Put(ctx, &cache.Entry{Hash: "h", Answer: "a"}, time.Hour))

	out, err := f.run(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:   1")

	f.deps.Config.QueueProvider = "nats"
	f.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
		return task.Type == queue.TaskTypeInvalidate && strings.Contains(string(task.Payload), "rollout")
	})).Return(nil).Once()

	out, err = f.run(t, "cache", "flush", "--reason", "rollout")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
	assert.Equal(t, int64(0), f.deps.Cache.Stats().Entries)
	f.queue.AssertExpectations(t)
}

func TestFingerprintCommand(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "fingerprint", "  What is the   REFUND policy?? ")
	require.NoError(t, err)
	assert.Contains(t, out, "normalized: what is the refund policy")
	assert.Contains(t, out, "tokens:     policy refund")

	out, err = f.run(t, "fingerprint", "What is the refund policy?", "what is the refund policy")
	require.NoError(t, err)
	assert.Contains(t, out, "(exact")

	_, err = f.run(t, "fingerprint", "?!")
	assert.Error(t, err)
}

func TestBuildFailureSurfaces(t *testing.T) {
	cmd := newRootCmd(func() (*app.Deps, error) { return nil, errors.New("bad config") })
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"cache", "stats"})
	assert.ErrorContains(t, cmd.Execute(), "bad config")
}
