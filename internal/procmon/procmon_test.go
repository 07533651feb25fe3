package procmon

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/whitecloud/save-agent/internal/library"
)

type fakeLister struct {
	mu    sync.Mutex
	procs []Process
}

func (f *fakeLister) set(procs []Process) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = procs
}

func (f *fakeLister) list() ([]Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Process(nil), f.procs...), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPollerEmitsStartAndEnd(t *testing.T) {
	lister := &fakeLister{}
	p := NewPoller(lister.list, 10*time.Millisecond)
	defer p.Stop()

	var mu sync.Mutex
	var events []library.ProcessEvent
	cancel := p.Subscribe("/opt/game", func(ev library.ProcessEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	p.Start()

	lister.set([]Process{
		{Pid: 10, ExecPath: "/opt/game/bin/game"},
		{Pid: 11, ExecPath: "/usr/bin/other"}, // outside the prefix
	})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})

	lister.set(nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if events[0].Kind != library.ProcessStart || events[0].ExecPath != "/opt/game/bin/game" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Kind != library.ProcessEnd {
		t.Fatalf("second event = %+v", events[1])
	}
}

func TestPollerUnsubscribeStopsDelivery(t *testing.T) {
	lister := &fakeLister{}
	p := NewPoller(lister.list, 10*time.Millisecond)
	defer p.Stop()

	var count atomic.Int64
	cancel := p.Subscribe("/opt/game", func(library.ProcessEvent) { count.Add(1) })
	cancel()

	p.Start()
	lister.set([]Process{{Pid: 10, ExecPath: "/opt/game/bin/game"}})
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatal("event delivered after unsubscribe")
	}
}

func TestRunningFiltersByPrefix(t *testing.T) {
	lister := &fakeLister{}
	lister.set([]Process{
		{Pid: 1, ExecPath: "/opt/game/game"},
		{Pid: 2, ExecPath: "/opt/gamer/other"},
		{Pid: 3, ExecPath: "/opt/game/tools/editor"},
	})
	p := NewPoller(lister.list, time.Second)
	defer p.Stop()

	got, err := p.Running("/opt/game")
	if err != nil {
		t.Fatal(err)
	}
	// The prefix must match a whole path segment; /opt/gamer is a
	// different directory.
	if len(got) != 2 {
		t.Fatalf("got %v, want the two /opt/game executables", got)
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var count atomic.Int64
	d := NewDebouncer(30 * time.Millisecond)
	for i := 0; i < 5; i++ {
		d.Do(func() { count.Add(1) })
		time.Sleep(time.Millisecond)
	}
	waitFor(t, func() bool { return count.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Fatalf("fired %d times, want 1", count.Load())
	}
}

func TestSaveWatcherFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int64
	sw, err := WatchDir(dir, 20*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	defer sw.Close()

	if err := os.WriteFile(filepath.Join(dir, "slot1.dat"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })

	// A directory created after the watch starts is watched too.
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() >= 2 })
	before := fired.Load()
	if err := os.WriteFile(filepath.Join(sub, "slot2.dat"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() > before })
}
