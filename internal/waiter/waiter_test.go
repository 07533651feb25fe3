package waiter

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitResolvesAndRemoves(t *testing.T) {
	w := New[string]()
	call := w.Wait(0)

	go w.Emit(call.ID, "ok")

	got, err := call.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q, want %q", got, "ok")
	}
	if w.Pending() != 0 {
		t.Fatalf("pool not empty after emit: %d", w.Pending())
	}
}

func TestEmitErrorRejects(t *testing.T) {
	w := New[string]()
	call := w.Wait(0)
	wantErr := errors.New("boom")

	go w.EmitError(call.ID, wantErr)

	if _, err := call.Result(); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestTimeoutRejectsOnlyThatCall(t *testing.T) {
	w := New[int]()
	short := w.Wait(10 * time.Millisecond)
	long := w.Wait(0)

	if _, err := short.Result(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if w.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", w.Pending())
	}

	go w.Emit(long.ID, 7)
	if v, err := long.Result(); err != nil || v != 7 {
		t.Fatalf("long call got (%d, %v)", v, err)
	}
}

func TestRejectAllEmptiesTable(t *testing.T) {
	w := New[int]()
	lost := errors.New("connection lost")

	const n = 8
	calls := make([]*Call[int], n)
	for i := range calls {
		calls[i] = w.Wait(time.Minute)
	}

	w.RejectAll(lost)

	for i, c := range calls {
		if _, err := c.Result(); !errors.Is(err, lost) {
			t.Fatalf("call %d got %v, want %v", i, err, lost)
		}
	}
	if w.Pending() != 0 {
		t.Fatalf("pool not empty: %d", w.Pending())
	}
}

func TestIDsDoNotReuseWhilePending(t *testing.T) {
	w := New[int]()
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		c := w.Wait(0)
		if seen[c.ID] {
			t.Fatalf("id %d reused", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestIDWrapsAfterCeiling(t *testing.T) {
	w := New[int]()
	w.id = maxSafeID

	c := w.Wait(0)
	if c.ID != 1 {
		t.Fatalf("id after wrap = %d, want 1", c.ID)
	}
}

func TestWaitForAll(t *testing.T) {
	w := New[int]()
	a := w.Wait(0)
	b := w.Wait(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.WaitForAll(time.Second)
	}()

	go a.Result()
	go b.Result()
	time.Sleep(5 * time.Millisecond)
	w.Emit(a.ID, 1)
	w.Emit(b.ID, 2)
	wg.Wait()

	// Empty table returns right away.
	done := make(chan struct{})
	go func() {
		w.WaitForAll(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForAll blocked on empty table")
	}
}
