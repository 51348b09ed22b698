// internal/transport/guard.go
package transport

import (
	"context"
	"sync"
)

// flightGuard admits one request at a time. Writers announce themselves
// before queueing, and readers do not take the slot while any writer is
// pending.
type flightGuard struct {
	sem chan struct{}

	mu         sync.Mutex
	pending    int
	writesDone chan struct{} // closed while pending == 0
}

func newFlightGuard() *flightGuard {
	done := make(chan struct{})
	close(done)
	return &flightGuard{
		sem:        make(chan struct{}, 1),
		writesDone: done,
	}
}

func (g *flightGuard) acquireRead(ctx context.Context) error {
	for {
		g.mu.Lock()
		wait := g.writesDone
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		// a writer may have arrived while we queued for the slot
		g.mu.Lock()
		yield := g.pending > 0
		g.mu.Unlock()
		if !yield {
			return nil
		}
		<-g.sem
	}
}

func (g *flightGuard) releaseRead() {
	<-g.sem
}

func (g *flightGuard) acquireWrite(ctx context.Context) error {
	g.mu.Lock()
	if g.pending == 0 {
		g.writesDone = make(chan struct{})
	}
	g.pending++
	g.mu.Unlock()

	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.writeFinished()
		return ctx.Err()
	}
}

func (g *flightGuard) releaseWrite() {
	<-g.sem
	g.writeFinished()
}

func (g *flightGuard) writeFinished() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending--
	if g.pending == 0 {
		close(g.writesDone)
	}
}
