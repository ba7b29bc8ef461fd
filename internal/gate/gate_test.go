package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockpack/blockpack/internal/blockproc"
	"github.com/blockpack/blockpack/internal/gate"
)

func TestGate_ProgressReturnsImmediatelyWhenRunning(t *testing.T) {
	g := gate.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Progress(ctx); err != nil {
		t.Fatalf("Progress: %v", err)
	}
}

func TestGate_PauseBlocksUntilResume(t *testing.T) {
	g := gate.New()
	g.Pause()

	done := make(chan error, 1)
	go func() {
		done <- g.Progress(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Progress returned before Resume was called")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Progress after Resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Progress did not return after Resume")
	}
}

func TestGate_TerminateUnblocksPausedProgress(t *testing.T) {
	g := gate.New()
	g.Pause()

	done := make(chan error, 1)
	go func() {
		done <- g.Progress(context.Background())
	}()

	g.Terminate()

	select {
	case err := <-done:
		if !errors.Is(err, blockproc.ErrTerminated) {
			t.Fatalf("Progress after Terminate = %v, want ErrTerminated", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Progress did not return after Terminate")
	}
}

func TestGate_TerminateBeforeProgress(t *testing.T) {
	g := gate.New()
	g.Terminate()
	if err := g.Progress(context.Background()); !errors.Is(err, blockproc.ErrTerminated) {
		t.Fatalf("Progress = %v, want ErrTerminated", err)
	}
}

func TestGate_ContextCancelUnblocksPausedProgress(t *testing.T) {
	g := gate.New()
	g.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Progress(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Progress after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Progress did not return after context cancel")
	}
}
