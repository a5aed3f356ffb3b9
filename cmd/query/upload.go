package main

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"faq-rag/internal/app"
	"faq-rag/internal/httputil"
	"faq-rag/internal/queue"
)

var allowedTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".pdf":      "application/pdf",
}

// uploadHandler accepts a knowledge file. With a broker the file is handed to
// the indexer; otherwise it is indexed in-process before responding.
func uploadHandler(deps *app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if maxFileSize > 0 && r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, "InvalidRequest", fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "InvalidRequest", "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if maxFileSize > 0 && header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, "InvalidRequest", fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		want, ok := allowedTypes[ext]
		if !ok {
			httputil.Fail(deps.Log, w, "InvalidRequest", "unsupported file type (only Markdown, TXT and PDF allowed)", nil, http.StatusBadRequest)
			return
		}
		if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" && !strings.HasPrefix(ct, want) {
			httputil.Fail(deps.Log, w, "InvalidRequest", fmt.Sprintf("content type %q does not match %s", ct, ext), nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "Internal", "failed to read file", err, http.StatusInternalServerError)
			return
		}

		if deps.Distributed() {
			task, err := queue.NewTask(queue.TaskTypeIndex, queue.IndexPayload{Name: header.Filename, Content: content})
			if err != nil {
				httputil.Fail(deps.Log, w, "Internal", "marshal payload failed", err, http.StatusInternalServerError)
				return
			}
			if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
				httputil.Fail(deps.Log, w, "QueueUnavailable", "failed to enqueue file; please retry", err, http.StatusServiceUnavailable)
				return
			}
			httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
				"name":   header.Filename,
				"status": "queued",
			})
			return
		}

		n, err := deps.Reindex(ctx, header.Filename, content)
		if err != nil {
			httputil.Fail(deps.Log, w, "IndexFailed", "failed to index file", err, http.StatusUnprocessableEntity)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"name":     header.Filename,
			"status":   "indexed",
			"passages": n,
		})
	}
}
