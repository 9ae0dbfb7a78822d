package watcher

import (
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pendingChange tracks a file change event
type pendingChange struct {
	path      string
	op        fsnotify.Op
	timestamp time.Time
}

// Debouncer batches file change events so a burst of writes to one config
// file revalidates once.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[string]*pendingChange
	interval time.Duration
	timer    *time.Timer
}

// NewDebouncer creates a new debouncer with the given interval
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		pending:  make(map[string]*pendingChange),
		interval: interval,
	}
}

// Add records a file change event
func (d *Debouncer) Add(path string, op fsnotify.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[path]; ok {
		existing.op |= op
		existing.timestamp = time.Now()
	} else {
		d.pending[path] = &pendingChange{
			path:      path,
			op:        op,
			timestamp: time.Now(),
		}
	}
}

// Flush runs callback with the pending changes once no new Flush has been
// requested for the debounce interval.
func (d *Debouncer) Flush(callback func(changed, removed []string)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		changed, removed := d.drain()
		if len(changed) > 0 || len(removed) > 0 {
			callback(changed, removed)
		}
	})
}

// Stop cancels a pending flush.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) drain() (changed, removed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for path, change := range d.pending {
		if change.op.Has(fsnotify.Remove) || change.op.Has(fsnotify.Rename) {
			removed = append(removed, path)
		} else if change.op.Has(fsnotify.Write) || change.op.Has(fsnotify.Create) {
			changed = append(changed, path)
		}
	}
	d.pending = make(map[string]*pendingChange)

	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed
}
