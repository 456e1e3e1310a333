package traffic

import (
	"errors"
	"sync"
	"testing"
)

func TestSerialQueue_OrderPreserved(t *testing.T) {
	q := NewSerialQueue(16, nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int

	const n = 10
	results := make([]<-chan error, 0, n)
	for i := 0; i < n; i++ {
		i := i
		results = append(results, q.Enqueue("step", func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	for _, ch := range results {
		if err := <-ch; err != nil {
			t.Fatalf("action error: %v", err)
		}
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, effects not in enqueue order: %v", i, got, order)
		}
	}
}

func TestSerialQueue_FailureIsolated(t *testing.T) {
	q := NewSerialQueue(16, nil)
	defer q.Close()

	boom := errors.New("boom")
	first := q.Enqueue("fails", func() error { return boom })

	ran := false
	second := q.Enqueue("next", func() error { ran = true; return nil })

	if err := <-first; !errors.Is(err, boom) {
		t.Errorf("first = %v, want boom", err)
	}
	if err := <-second; err != nil {
		t.Errorf("second = %v, want nil", err)
	}
	if !ran {
		t.Error("failure in action k prevented action k+1")
	}
}

func TestSerialQueue_PanicIsolated(t *testing.T) {
	q := NewSerialQueue(16, nil)
	defer q.Close()

	first := q.Enqueue("panics", func() error { panic("boom") })
	second := q.Enqueue("next", func() error { return nil })

	if err := <-first; err == nil {
		t.Error("panicking action returned nil error")
	}
	if err := <-second; err != nil {
		t.Errorf("second = %v, want nil", err)
	}
}

func TestSerialQueue_CloseRejectsNewWork(t *testing.T) {
	q := NewSerialQueue(16, nil)
	q.Close()

	if err := <-q.Enqueue("late", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("enqueue after close = %v, want ErrQueueClosed", err)
	}

	q.Close() // idempotent
}
