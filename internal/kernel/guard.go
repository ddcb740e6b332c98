package kernel

import "context"

// Guard serializes access to the interpreter.
//
// It is a one-slot channel semaphore rather than a sync.Mutex so that
// waiters can also give up when their context ends. Goroutines blocked on the
// send are released by the runtime in the order they arrived, which gives
// best-effort FIFO ordering between concurrent executions. The guard is not
// reentrant: calling Do from inside fn deadlocks.
type Guard struct {
	slot chan struct{}
}

// NewGuard returns an unlocked Guard.
func NewGuard() *Guard {
	return &Guard{slot: make(chan struct{}, 1)}
}

// Do runs fn while holding the guard. The guard is released on every exit
// path, including a panic in fn. Waiting has no timeout of its own.
func (g *Guard) Do(fn func()) {
	g.slot <- struct{}{}
	defer func() { <-g.slot }()
	fn()
}

// DoContext is Do but gives up waiting when ctx is done. fn is not called in
// that case and ctx.Err() is returned.
func (g *Guard) DoContext(ctx context.Context, fn func()) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()
	fn()
	return nil
}

// Busy reports whether an execution currently holds the guard.
func (g *Guard) Busy() bool {
	return len(g.slot) == 1
}
