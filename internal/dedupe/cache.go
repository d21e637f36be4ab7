// ABOUTME: Size-bounded window of recently seen keys with a fixed TTL
// ABOUTME: fleet-agent uses it to drop repeated deliveries of the same job id

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Window records keys for ttl. Entries are kept in first-seen order, so
// expired entries are always at the front and are pruned lazily on access.
// When full, the oldest entry is evicted.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	index   map[string]*list.Element
	now     func() time.Time
}

// New creates a Window. maxSize below 1 is treated as 1.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Window{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the window. A key that was
// not is recorded now, so of two concurrent calls with the same key exactly
// one returns false.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if _, ok := w.index[key]; ok {
		return true
	}
	if w.order.Len() >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.order.Len()
}

func (w *Window) pruneLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).key)
}
