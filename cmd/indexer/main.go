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
	"faq-rag/internal/httputil"
	"faq-rag/internal/queue"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if !deps.Distributed() {
		deps.Log.Error("indexer needs QUEUE_PROVIDER=nats")
		os.Exit(1)
	}
	deps.Log.Info("indexer worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIndex, func(ctx context.Context, task queue.Task) error {
			var payload queue.IndexPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return err
			}
			return handleIndex(ctx, deps, payload)
		})
	})

	g.Go(func() error {
		return serveHealth(ctx, deps)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("indexer stopped", "err", err)
	}
}

func handleIndex(ctx context.Context, deps *app.Deps, payload queue.IndexPayload) error {
	if payload.Name == "" {
		return errors.New("index task without a file name")
	}
	_, err := deps.Reindex(ctx, payload.Name, payload.Content)
	return err
}

func newHealthRouter(deps *app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log, 10*time.Second)
	r.Get("/healthz", httputil.HealthHandler(deps.Log, func(r *http.Request) error {
		_, err := deps.Index.Count(r.Context())
		return err
	}))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	return r
}

func serveHealth(ctx context.Context, deps *app.Deps) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newHealthRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	deps.Log.Info("indexer health listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
