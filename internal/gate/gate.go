// Package gate implements the Task Reader (C6): the cooperative
// pause/terminate signal the Pipeline Core consults between blocks and at
// every suspension point the Task Reader defines.
package gate

import (
	"context"
	"sync"

	"github.com/blockpack/blockpack/internal/blockproc"
)

// Gate is the Task Reader's runtime state. The zero value is running and
// unpaused; use New for clarity at call sites.
//
// Stop-after-current is deliberately not modeled here: termination requires
// the pipeline to keep consuming so upstream can drain cleanly, so stop
// is a concern for the pipeline's own boundaries, never for Gate.
type Gate struct {
	mu        sync.Mutex
	paused    bool
	resumeCh  chan struct{} // closed and replaced each time Resume is called
	terminate bool
}

// New returns a running, unpaused gate.
func New() *Gate {
	return &Gate{resumeCh: make(chan struct{})}
}

// Pause suspends future Progress calls until Resume is called.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	if g.resumeCh == nil {
		g.resumeCh = make(chan struct{})
	}
}

// Resume releases any Progress calls currently blocked on a pause.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumeCh)
	g.resumeCh = make(chan struct{})
}

// Terminate requests that every future (and any currently blocked)
// Progress call return ErrTerminated.
func (g *Gate) Terminate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminate = true
	if g.paused {
		g.paused = false
		close(g.resumeCh)
		g.resumeCh = make(chan struct{})
	}
}

// Progress is the Task Reader's one awaitable: it returns
// immediately while running, blocks while paused, and returns
// blockproc.ErrTerminated once Terminate has been called. ctx cancellation
// also unblocks a paused call, returning ctx.Err() instead.
func (g *Gate) Progress(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.terminate {
			g.mu.Unlock()
			return blockproc.ErrTerminated
		}
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		wait := g.resumeCh
		g.mu.Unlock()

		select {
		case <-wait:
			// loop around: re-check terminate/paused under the lock.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
