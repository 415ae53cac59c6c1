package trigger

import (
	"container/list"
	"sync"
)

// Deduper remembers recent delivery IDs so a redelivered event starts no second
// run. It holds at most capacity IDs; the oldest are forgotten first.
type Deduper struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

// NewDeduper returns a Deduper holding up to capacity IDs.
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Deduper{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element, capacity),
	}
}

// Seen records id and reports whether it had been recorded before. An empty id
// is never considered seen.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = d.order.PushBack(id)
	for d.order.Len() > d.capacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return false
}

// Forget drops id so a later delivery with the same id is accepted again. Used
// when a delivery was recorded but could not be queued.
func (d *Deduper) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
	}
}
