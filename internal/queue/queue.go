// SPDX-License-Identifier: MIT

// Package queue provides the FIFO work queue of job ids between the
// submission path and the worker pool. The memory backend is the default; a
// redis backend covers deployments that must survive restarts or span
// processes.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed = errors.New("queue: closed")

	// ErrFull is returned when a bounded backend cannot accept more work.
	// The API maps it to 503.
	ErrFull = errors.New("queue: full")
)

// DefaultCapacity bounds the memory backend when config does not set one.
const DefaultCapacity = 1024

// Queue carries job ids in FIFO order. Payloads stay in the store; the
// queue moves only references.
type Queue interface {
	// Enqueue appends a job id. Bounded backends return ErrFull.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue pops the oldest id, waiting up to wait when empty. ok is
	// false on timeout. A closed queue drains its remaining ids before
	// returning ErrClosed.
	Dequeue(ctx context.Context, wait time.Duration) (jobID string, ok bool, err error)

	// Len reports the number of queued ids.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Memory is the in-process backend: a bounded buffered channel.
type Memory struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

// NewMemory creates a memory queue holding up to capacity ids.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{ch: make(chan string, capacity)}
}

func (q *Memory) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Send under the lock so Close cannot close the channel mid-send.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrFull
	}
}

func (q *Memory) Dequeue(ctx context.Context, wait time.Duration) (string, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case id, open := <-q.ch:
		if !open {
			return "", false, ErrClosed
		}
		return id, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (q *Memory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.ch), nil
}

// Close marks the queue closed. Workers blocked in Dequeue drain whatever
// remains buffered, then observe ErrClosed.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}
