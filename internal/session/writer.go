package session

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/creator-crew/internal/storage"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type writeOp struct {
	value  []byte
	delete bool
}

// writer persists values in the background. Pending writes to the same key are
// coalesced so only the newest value is written, and enqueue never blocks.
type writer struct {
	kv     storage.Storage
	logger *zap.Logger

	mu       sync.Mutex
	pending  map[string]writeOp
	order    []string
	inflight int
	// waiters are closed the next time the queue is empty with nothing in flight.
	waiters []chan struct{}

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWriter(kv storage.Storage, logger *zap.Logger) *writer {
	w := &writer{
		kv:      kv,
		logger:  logger,
		pending: make(map[string]writeOp),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) enqueue(key string, op writeOp) {
	w.mu.Lock()
	if _, queued := w.pending[key]; !queued {
		w.order = append(w.order, key)
	}
	w.pending[key] = op
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		if len(w.order) == 0 {
			w.releaseWaitersLocked()
			w.mu.Unlock()
			return
		}
		key := w.order[0]
		w.order = w.order[1:]
		op := w.pending[key]
		delete(w.pending, key)
		w.inflight++
		w.mu.Unlock()

		w.apply(key, op)

		w.mu.Lock()
		w.inflight--
		w.mu.Unlock()
	}
}

func (w *writer) apply(key string, op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if op.delete {
		err = w.kv.Delete(ctx, key)
	} else {
		err = w.kv.Put(ctx, key, op.value)
	}
	if err != nil {
		w.logger.Error("Failed to persist session data",
			zap.Error(err),
			zap.String("key", key),
			zap.Bool("delete", op.delete))
	}
}

func (w *writer) releaseWaitersLocked() {
	if w.inflight != 0 {
		return
	}
	for _, ch := range w.waiters {
		close(ch)
	}
	w.waiters = nil
}

// flush waits until every write enqueued so far has been applied.
func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.order) == 0 && w.inflight == 0 {
		w.mu.Unlock()
		return nil
	}
	idle := make(chan struct{})
	w.waiters = append(w.waiters, idle)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}
