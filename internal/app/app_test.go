package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tgscan-bot/tgscan/internal/config"
)

type stubLoop struct {
	started chan struct{}
}

func (l *stubLoop) Run(ctx context.Context) error {
	close(l.started)
	<-ctx.Done()
	return ctx.Err()
}

type stubSweeper struct {
	calls atomic.Int64
}

func (s *stubSweeper) SweepIdle(context.Context) (int, int64) {
	s.calls.Add(1)
	return 0, 0
}

func TestNewAssignsDependencies(t *testing.T) {
	cfg := &config.Config{SweepInterval: 5 * time.Minute}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	health := &http.Server{Addr: ":3000", ReadHeaderTimeout: time.Second}

	a := New(cfg, logger, nil, nil, nil, health, nil)
	if a.Config != cfg || a.Logger != logger || a.Health != health {
		t.Fatal("expected app dependencies to be assigned")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{SweepInterval: 10 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	health := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}
	loop := &stubLoop{started: make(chan struct{})}
	sweeper := &stubSweeper{}

	a := New(cfg, logger, nil, loop, sweeper, health, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-loop.started:
	case <-time.After(2 * time.Second):
		t.Fatal("update loop never started")
	}

	// Let the sweep ticker fire at least once before shutting down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if sweeper.calls.Load() == 0 {
		t.Fatal("expected at least one idle sweep")
	}
}
