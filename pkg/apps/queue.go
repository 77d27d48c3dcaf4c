package apps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/appcanvas/pkg/events"
	"github.com/astromechza/appcanvas/pkg/metrics"
)

// DefaultCreateTimeout bounds how long the queue waits for one creation.
const DefaultCreateTimeout = 30 * time.Second

var ErrQueueClosed = errors.New("creation queue closed")

// Task is one queued creation.
type Task func(ctx context.Context) error

type queued struct {
	name string
	task Task
	done chan error
}

// CreationQueue runs creations strictly one after another on a single worker. Ready is closed
// once, the first time the queue is empty after Start.
type CreationQueue struct {
	timeout time.Duration

	mutex   sync.Mutex
	tasks   []*queued
	running string
	started bool
	closed  bool
	wake    chan struct{}

	ready   chan struct{}
	isReady bool
	onReady events.Listeners[struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCreationQueue(timeout time.Duration) *CreationQueue {
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CreationQueue{
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		ready:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Push enqueues task and returns a channel receiving its result.
func (q *CreationQueue) Push(name string, task Task) <-chan error {
	done := make(chan error, 1)
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		done <- ErrQueueClosed
		return done
	}
	q.tasks = append(q.tasks, &queued{name: name, task: task, done: done})
	metrics.CreationQueueDepth.Set(float64(len(q.tasks)))
	q.mutex.Unlock()
	q.signal()
	return done
}

// Queued reports whether a task named name is waiting or running.
func (q *CreationQueue) Queued(name string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.running == name {
		return true
	}
	for _, t := range q.tasks {
		if t.name == name {
			return true
		}
	}
	return false
}

func (q *CreationQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	n := len(q.tasks)
	if q.running != "" {
		n++
	}
	return n
}

func (q *CreationQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker. Calling it again is a no-op.
func (q *CreationQueue) Start() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.work()
}

// Ready is closed after the first full drain following Start.
func (q *CreationQueue) Ready() <-chan struct{} {
	return q.ready
}

// OnReady registers fn for the ready signal. It runs immediately when the queue is already ready.
func (q *CreationQueue) OnReady(fn func()) func() {
	q.mutex.Lock()
	if q.isReady {
		q.mutex.Unlock()
		fn()
		return func() {}
	}
	defer q.mutex.Unlock()
	return q.onReady.Add(func(struct{}) { fn() })
}

func (q *CreationQueue) markReady() {
	q.mutex.Lock()
	if q.isReady {
		q.mutex.Unlock()
		return
	}
	q.isReady = true
	close(q.ready)
	q.mutex.Unlock()
	slog.Debug("creation queue drained")
	q.onReady.SafeEmit("creation-queue", struct{}{})
	q.onReady.Clear()
}

func (q *CreationQueue) next() (*queued, bool) {
	for {
		q.mutex.Lock()
		if len(q.tasks) > 0 {
			t := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.running = t.name
			metrics.CreationQueueDepth.Set(float64(len(q.tasks)))
			q.mutex.Unlock()
			return t, true
		}
		q.running = ""
		q.mutex.Unlock()
		q.markReady()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

func (q *CreationQueue) work() {
	defer q.wg.Done()
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		start := time.Now()
		err := q.run(t)
		metrics.CreationDuration.Observe(time.Since(start).Seconds())
		t.done <- err
	}
}

func (q *CreationQueue) run(t *queued) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		var err error
		if perr := events.Guard(func() { err = t.task(ctx) }); perr != nil {
			err = perr
		}
		result <- err
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		slog.Warn("gave up waiting for creation", "task", t.name, "err", ctx.Err())
		return fmt.Errorf("failed to create %s: %w", t.name, ctx.Err())
	}
}

// Close stops the worker and fails everything still queued.
func (q *CreationQueue) Close() {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	pending := q.tasks
	q.tasks = nil
	q.mutex.Unlock()

	q.cancel()
	q.wg.Wait()
	for _, t := range pending {
		t.done <- ErrQueueClosed
	}
	metrics.CreationQueueDepth.Set(0)
}
