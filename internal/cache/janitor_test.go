package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRunJanitorEvictsUntilCanceled(t *testing.T) {
	evicted := make(chan struct{}, 1)
	s := new(MockStore)
	s.On("Evict", mock.Anything).Run(func(mock.Arguments) {
		select {
		case evicted <- struct{}{}:
		default:
		}
	}).Return(1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunJanitor(ctx, s, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	select {
	case <-evicted:
	case <-time.After(time.Second):
		t.Fatal("janitor never evicted")
	}
	cancel()
	assert.NoError(t, <-done)
}
