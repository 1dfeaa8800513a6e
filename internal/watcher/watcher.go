// Package watcher observes mod directories and schedules rescans when
// their contents change.
package watcher

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/queue"
)

const debounceWindow = 2 * time.Second

// Watcher debounces filesystem events per directory and enqueues one
// scan task per burst of changes. Rapid-fire events during a download or
// a mass delete collapse into a single rescan.
type Watcher struct {
	mu      sync.Mutex
	queue   *queue.Queue
	fsw     *fsnotify.Watcher
	paths   []string
	pending map[string]*time.Timer

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a watcher over the given directories
func New(q *queue.Queue, paths []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		queue:   q,
		fsw:     fsw,
		paths:   paths,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start registers the watch paths and begins dispatching. Directories
// that cannot be watched are logged and skipped.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	watched := 0
	for _, p := range w.paths {
		if p == "" {
			continue
		}
		if err := w.fsw.Add(p); err != nil {
			log.Printf("⚠️ Cannot watch %s: %v", p, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no watchable paths configured")
	}

	w.running = true
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})
	go w.loop()

	log.Printf("✅ File watcher started (%d paths)", watched)
	return nil
}

// Stop shuts the watcher down and drops any pending debounce timers
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	for dir, timer := range w.pending {
		timer.Stop()
		delete(w.pending, dir)
	}
	done := w.doneChan
	w.mu.Unlock()

	w.fsw.Close()
	<-done
	log.Println("✅ File watcher stopped")
}

func (w *Watcher) loop() {
	defer close(w.doneChan)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.schedule(filepath.Dir(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Watcher error: %v", err)
		case <-w.stopChan:
			return
		}
	}
}

// relevant keeps only jar mutations; editors and launchers produce a lot
// of temp-file noise around the real write
func relevant(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".jar") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// schedule arms (or re-arms) the debounce timer for a directory
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if timer, ok := w.pending[dir]; ok {
		timer.Reset(debounceWindow)
		return
	}
	w.pending[dir] = time.AfterFunc(debounceWindow, func() {
		w.fire(dir)
	})
}

func (w *Watcher) fire(dir string) {
	w.mu.Lock()
	delete(w.pending, dir)
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := w.queue.Enqueue(ctx, queue.TaskScan, datatypes.JSONMap{
		"scan_path": dir,
		"force":     true,
	}, 1)
	if err != nil {
		log.Printf("⚠️ Could not schedule rescan of %s: %v", dir, err)
		return
	}
	log.Printf("🔄 Change detected in %s, rescan scheduled", dir)
}
