package traffic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned for actions enqueued after Close.
var ErrQueueClosed = errors.New("serial queue closed")

// SerialQueue runs actions one at a time in enqueue order. It exists for
// mutations that must never race with themselves from the same client, such
// as sequential status transitions on one resource. A failing action never
// stalls the actions behind it.
type SerialQueue struct {
	logger *slog.Logger
	jobs   chan job

	mu     sync.Mutex
	closed bool

	wg sync.WaitGroup
}

type job struct {
	label  string
	fn     func() error
	result chan error
}

// NewSerialQueue creates a queue and starts its single worker.
func NewSerialQueue(depth int, logger *slog.Logger) *SerialQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = 64
	}

	q := &SerialQueue{
		logger: logger,
		jobs:   make(chan job, depth),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

// Enqueue appends an action and returns a channel that yields its result.
// Actions run strictly in enqueue order with effective concurrency of one.
func (q *SerialQueue) Enqueue(label string, fn func() error) <-chan error {
	result := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		result <- ErrQueueClosed
		return result
	}
	q.jobs <- job{label: label, fn: fn, result: result}
	q.mu.Unlock()

	return result
}

// Close stops accepting actions and waits for queued ones to finish.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *SerialQueue) run() {
	defer q.wg.Done()

	for j := range q.jobs {
		err := q.runOne(j)
		if err != nil {
			q.logger.Warn("serialized action failed", "label", j.label, "error", err)
		}
		j.result <- err
	}
}

// runOne executes a single action, converting a panic into an error so one
// broken action cannot kill the worker.
func (q *SerialQueue) runOne(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", j.label, r)
		}
	}()
	return j.fn()
}
