// Package procmon watches the operating system for the two external
// signals the catalogue reacts to: process starts/exits under a game's
// install directory, and filesystem changes under a save directory.
package procmon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/whitecloud/save-agent/internal/library"
)

// Process is one running executable as the poller sees it.
type Process struct {
	Pid      int
	ExecPath string
}

// ListFunc enumerates running processes. The default reads /proc; tests
// inject their own.
type ListFunc func() ([]Process, error)

type subscriber struct {
	prefix string
	fn     func(library.ProcessEvent)
}

// Poller derives start/end events by diffing process snapshots on a fixed
// tick. Delivery is keyed by directory-prefix match on the executable
// path.
type Poller struct {
	list     ListFunc
	interval time.Duration

	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int
	procs  map[int]string // pid -> exec path
	stop   chan struct{}
	once   sync.Once
}

func NewPoller(list ListFunc, interval time.Duration) *Poller {
	if list == nil {
		list = ListProcesses
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		list:     list,
		interval: interval,
		subs:     make(map[int]subscriber),
		procs:    make(map[int]string),
		stop:     make(chan struct{}),
	}
}

// Start begins polling until Stop is called.
func (p *Poller) Start() {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// underDir reports whether path sits inside dir.
func underDir(path, dir string) bool {
	dir = filepath.Clean(dir)
	return path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator))
}

// Running snapshots the processes whose executable lives under dirPrefix.
func (p *Poller) Running(dirPrefix string) ([]string, error) {
	procs, err := p.list()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, proc := range procs {
		if underDir(proc.ExecPath, dirPrefix) {
			out = append(out, proc.ExecPath)
		}
	}
	return out, nil
}

// Subscribe delivers start/end events for executables under dirPrefix.
func (p *Poller) Subscribe(dirPrefix string, fn func(library.ProcessEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = subscriber{prefix: dirPrefix, fn: fn}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Poller) tick() {
	procs, err := p.list()
	if err != nil {
		log.Warnf("process snapshot failed: %v", err)
		return
	}
	next := make(map[int]string, len(procs))
	for _, proc := range procs {
		next[proc.Pid] = proc.ExecPath
	}

	p.mu.Lock()
	prev := p.procs
	p.procs = next
	subs := make([]subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for pid, exec := range next {
		if _, ok := prev[pid]; !ok {
			p.emit(subs, library.ProcessEvent{Kind: library.ProcessStart, ExecPath: exec})
		}
	}
	for pid, exec := range prev {
		if _, ok := next[pid]; !ok {
			p.emit(subs, library.ProcessEvent{Kind: library.ProcessEnd, ExecPath: exec})
		}
	}
}

func (p *Poller) emit(subs []subscriber, ev library.ProcessEvent) {
	for _, s := range subs {
		if underDir(ev.ExecPath, s.prefix) {
			s.fn(ev)
		}
	}
}

// ListProcesses reads the /proc table. Entries whose exe link cannot be
// resolved (kernel threads, processes of other users) are skipped.
func ListProcesses() ([]Process, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var out []Process
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		exec, err := os.Readlink(filepath.Join("/proc", e.Name(), "exe"))
		if err != nil {
			continue
		}
		out = append(out, Process{Pid: pid, ExecPath: exec})
	}
	return out, nil
}
