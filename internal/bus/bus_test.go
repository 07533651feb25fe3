package bus

import (
	"sync"
	"testing"
)

func TestValueLateSubscriberGetsCurrent(t *testing.T) {
	v := NewValue(42)

	var got []int
	v.Subscribe(func(x int) { got = append(got, x) })

	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("late subscriber received %v, want [42]", got)
	}
}

func TestValueOrdering(t *testing.T) {
	v := NewValue(0)

	var got []int
	v.Subscribe(func(x int) { got = append(got, x) })

	for i := 1; i <= 5; i++ {
		v.Set(i)
	}

	want := []int{0, 1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("received %v, want %v", got, want)
		}
	}
}

func TestFeedUnsubscribe(t *testing.T) {
	f := NewFeed[string]()

	var a, b int
	unsubA := f.Subscribe(func(string) { a++ })
	f.Subscribe(func(string) { b++ })

	f.Emit("x")
	unsubA()
	f.Emit("y")

	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d, want a=1 b=2", a, b)
	}
}

func TestFeedConcurrentEmitsAreSerialized(t *testing.T) {
	f := NewFeed[int]()

	var mu sync.Mutex
	seen := 0
	f.Subscribe(func(int) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.Emit(n)
		}(i)
	}
	wg.Wait()

	if seen != 50 {
		t.Fatalf("seen = %d, want 50", seen)
	}
}
