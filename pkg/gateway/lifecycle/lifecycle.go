package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lifecycle is the process lifecycle state shared across handlers. It holds
// the readiness draining flag and the set of open event streams that must be
// released during graceful shutdown.
type Lifecycle struct {
	draining atomic.Bool

	mu      sync.Mutex
	nextID  uint64
	streams map[uint64]context.CancelFunc
	wg      sync.WaitGroup
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Track registers a long-lived stream. The returned context is canceled by
// CancelStreams; release must be called when the stream ends.
func (l *Lifecycle) Track(ctx context.Context) (context.Context, func()) {
	streamCtx, cancel := context.WithCancel(ctx)
	if l == nil {
		return streamCtx, cancel
	}

	l.mu.Lock()
	if l.streams == nil {
		l.streams = make(map[uint64]context.CancelFunc)
	}
	l.nextID++
	id := l.nextID
	l.streams[id] = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	var once sync.Once
	return streamCtx, func() {
		once.Do(func() {
			cancel()
			l.mu.Lock()
			delete(l.streams, id)
			l.mu.Unlock()
			l.wg.Done()
		})
	}
}

func (l *Lifecycle) Streams() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

// CancelStreams cancels every tracked stream and reports how many there were.
func (l *Lifecycle) CancelStreams() (canceled int) {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(l.streams))
	for _, cancel := range l.streams {
		cancels = append(cancels, cancel)
	}
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// WaitStreams blocks until every tracked stream is released or ctx ends.
func (l *Lifecycle) WaitStreams(ctx context.Context) bool {
	if l == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
