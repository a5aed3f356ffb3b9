package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"faq-rag/internal/app"
	"faq-rag/internal/cache"
	"faq-rag/internal/httputil"
	"faq-rag/internal/pipeline"
	"faq-rag/internal/queue"
)

type askRequest struct {
	Question    string `json:"question" validate:"required,max=2000"`
	SessionID   string `json:"session_id" validate:"omitempty,max=128"`
	BypassCache bool   `json:"bypass_cache"`
	TopK        int    `json:"top_k" validate:"omitempty,min=1"`
}

type askResponse struct {
	Answer        string   `json:"answer"`
	Cached        bool     `json:"cached"`
	NearDuplicate bool     `json:"near_duplicate"`
	Similarity    float64  `json:"similarity,omitempty"`
	Coalesced     bool     `json:"coalesced"`
	LatencyMS     int64    `json:"latency_ms"`
	PassageIDs    []string `json:"passage_ids"`
	Fingerprint   string   `json:"fingerprint"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := deps.Bootstrap(ctx); err != nil {
		deps.Log.Error("failed to load knowledge base", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Log.Info("query service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Every instance flushes its own cache on invalidation.
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeInvalidate, invalidateHandler(deps))
	})

	if deps.Config.CacheProvider != "memory" {
		g.Go(func() error {
			return cache.RunJanitor(ctx, deps.Cache, deps.Config.CacheCleanupInterval, deps.Log)
		})
	}

	if err := g.Wait(); err != nil {
		deps.Log.Error("query service stopped", "err", err)
	}
}

func newRouter(deps *app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log, deps.Pipeline.FollowerWait()+5*time.Second)

	r.Post("/api/ask", askHandler(deps))
	r.Post("/api/knowledge", uploadHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Get("/api/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Cache.Stats())
	})
	return r
}

func askHandler(deps *app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "InvalidRequest", "invalid payload", err, http.StatusBadRequest)
			return
		}

		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if maxTopK := deps.Config.MaxTopK; maxTopK > 0 && req.TopK > maxTopK {
			httputil.Fail(deps.Log, w, "InvalidRequest", fmt.Sprintf("top_k must be at most %d", maxTopK), nil, http.StatusBadRequest)
			return
		}

		resp, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
			Question:    req.Question,
			SessionID:   req.SessionID,
			BypassCache: req.BypassCache,
			TopK:        req.TopK,
			ReceivedAt:  time.Now(),
		})
		if err != nil {
			kind := pipeline.Classify(err)
			httputil.Fail(deps.Log, w, string(kind), failureMessage(kind), err, statusFor(kind))
			return
		}

		ids := resp.PassageIDs
		if ids == nil {
			ids = []string{}
		}
		httputil.WriteJSON(w, http.StatusOK, askResponse{
			Answer:        resp.Answer,
			Cached:        resp.Cached,
			NearDuplicate: resp.NearDuplicate,
			Similarity:    resp.Similarity,
			Coalesced:     resp.Coalesced,
			LatencyMS:     resp.Latency.Milliseconds(),
			PassageIDs:    ids,
			Fingerprint:   resp.Fingerprint,
		})
	}
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindInvalidQuestion:
		return http.StatusBadRequest
	case pipeline.KindRetrievalUnavailable, pipeline.KindGenerationUnavailable, pipeline.KindCacheUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.KindRetrievalTimeout, pipeline.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func failureMessage(kind pipeline.Kind) string {
	switch kind {
	case pipeline.KindInvalidQuestion:
		return "question is empty after normalization"
	case pipeline.KindRetrievalUnavailable:
		return "knowledge base is unavailable"
	case pipeline.KindRetrievalTimeout:
		return "knowledge base lookup timed out"
	case pipeline.KindGenerationUnavailable:
		return "answer generation is unavailable"
	case pipeline.KindGenerationTimeout:
		return "answer generation timed out"
	case pipeline.KindCanceled:
		return "request canceled"
	default:
		return "failed to answer question"
	}
}

func invalidateHandler(deps *app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var payload queue.InvalidatePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return err
		}
		return deps.FlushCache(ctx, payload.Reason, payload.Sources)
	}
}
