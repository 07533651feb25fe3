package procmon

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Debouncer coalesces a burst of calls into one, firing after delay of
// quiet.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, fn)
}

// SaveWatcher reports changes under a save directory. Games write saves
// as bursts of small file operations, so events are debounced before the
// callback fires.
type SaveWatcher struct {
	w    *fsnotify.Watcher
	deb  *Debouncer
	done chan struct{}
}

// WatchDir watches dir and every directory below it. Directories created
// later are picked up as they appear.
func WatchDir(dir string, delay time.Duration, fn func()) (*SaveWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(w, dir); err != nil {
		w.Close()
		return nil, err
	}

	sw := &SaveWatcher{w: w, deb: NewDebouncer(delay), done: make(chan struct{})}
	go sw.loop(fn)
	return sw, nil
}

func addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (sw *SaveWatcher) loop(fn func()) {
	for {
		select {
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := sw.w.Add(ev.Name); err != nil {
						log.Warnf("failed to watch new directory %s: %v", ev.Name, err)
					}
				}
			}
			sw.deb.Do(fn)
		case err, ok := <-sw.w.Errors:
			if !ok {
				return
			}
			log.Warnf("save watcher error: %v", err)
		case <-sw.done:
			return
		}
	}
}

func (sw *SaveWatcher) Close() error {
	close(sw.done)
	return sw.w.Close()
}
