// Package watch detects flowcell directories delivered into an inbox.
//
// A flowcell is delivered once its marker file (RTAComplete.txt by default)
// appears directly inside a top-level directory of the inbox. Deliveries are
// reported once per directory, after the marker has been quiet for the settle
// delay.
package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultMarker is the file the sequencer writes when a run is complete.
const DefaultMarker = "RTAComplete.txt"

// DefaultSettle is the quiet period before a delivery is reported.
const DefaultSettle = 2 * time.Second

// Delivery is a flowcell directory whose marker file has appeared.
type Delivery struct {
	Dir        string
	DetectedAt time.Time
}

// Watcher watches one inbox directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Delivery
	errors  chan error
	done    chan struct{}
	inbox   string
	marker  string
	settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool
	closed  bool
}

// New starts watching inbox. Existing subdirectories are watched too, but
// flowcells already carrying the marker are not reported; use Delivered for
// those.
func New(inbox, marker string, settle time.Duration) (*Watcher, error) {
	if strings.HasPrefix(inbox, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		inbox = filepath.Join(home, inbox[1:])
	}
	inbox = filepath.Clean(inbox)
	if marker == "" {
		marker = DefaultMarker
	}
	if settle < 0 {
		settle = 0
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		events:  make(chan Delivery, 16),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		inbox:   inbox,
		marker:  marker,
		settle:  settle,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}

	if err := fsw.Add(inbox); err != nil {
		fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(inbox)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(inbox, e.Name())
		if hasMarker(dir, marker) {
			w.seen[dir] = true
			continue
		}
		if err := fsw.Add(dir); err != nil && !os.IsPermission(err) {
			fsw.Close()
			return nil, err
		}
	}

	go w.processEvents()
	return w, nil
}

// Delivered lists the top-level directories of inbox that already carry
// marker, sorted by name.
func Delivered(inbox, marker string) ([]string, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		dir := filepath.Join(inbox, e.Name())
		if e.IsDir() && hasMarker(dir, marker) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func hasMarker(dir, marker string) bool {
	info, err := os.Stat(filepath.Join(dir, marker))
	return err == nil && !info.IsDir()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	path := filepath.Clean(event.Name)
	parent := filepath.Dir(path)

	// new flowcell directory in the inbox
	if parent == w.inbox && event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return
		}
		if err := w.watcher.Add(path); err != nil {
			w.sendError(err)
			return
		}
		// the marker may have been written before the watch was added
		if hasMarker(path, w.marker) {
			w.schedule(path)
		}
		return
	}

	if filepath.Base(path) == w.marker && filepath.Dir(parent) == w.inbox {
		w.schedule(parent)
	}
}

// schedule reports dir after the settle delay, restarting the delay on
// every further marker event.
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.seen[dir] {
		return
	}
	if timer, ok := w.pending[dir]; ok {
		timer.Stop()
	}
	w.pending[dir] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, dir)
		if w.closed || w.seen[dir] {
			w.mu.Unlock()
			return
		}
		w.seen[dir] = true
		w.mu.Unlock()

		w.watcher.Remove(dir)
		select {
		case w.events <- Delivery{Dir: dir, DetectedAt: time.Now()}:
		case <-w.done:
		}
	})
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		// Error channel full, drop the error
	}
}

// Events returns delivered flowcell directories.
func (w *Watcher) Events() <-chan Delivery {
	return w.events
}

// Errors returns watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Inbox returns the watched directory.
func (w *Watcher) Inbox() string {
	return w.inbox
}

// Close stops the watcher. Pending deliveries are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
