// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(8)
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	for _, id := range []string{"qc-1", "qc-2", "qc-3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}

	for _, want := range []string{"qc-1", "qc-2", "qc-3"} {
		id, ok, err := q.Dequeue(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("dequeue: ok=%v err=%v", ok, err)
		}
		if id != want {
			t.Fatalf("dequeue = %s, want %s", id, want)
		}
	}
}

func TestMemoryDequeueTimeout(t *testing.T) {
	q := NewMemory(1)
	defer func() { _ = q.Close() }()

	start := time.Now()
	_, ok, err := q.Dequeue(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if ok {
		t.Fatal("dequeue on empty queue returned ok")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("dequeue returned before the wait elapsed")
	}
}

func TestMemoryFull(t *testing.T) {
	q := NewMemory(2)
	defer func() { _ = q.Close() }()
	ctx := context.Background()

	if err := q.Enqueue(ctx, "a"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "c"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestMemoryCloseDrains(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "qc-last"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Buffered work is still delivered after close.
	id, ok, err := q.Dequeue(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("dequeue after close: ok=%v err=%v", ok, err)
	}
	if id != "qc-last" {
		t.Fatalf("dequeue = %s, want qc-last", id)
	}

	// Then the closed state surfaces.
	_, _, err = q.Dequeue(ctx, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Enqueue(ctx, "qc-late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	// Close is idempotent.
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryDequeueHonorsContext(t *testing.T) {
	q := NewMemory(1)
	defer func() { _ = q.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := q.Dequeue(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
