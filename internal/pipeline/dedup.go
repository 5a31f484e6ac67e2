package pipeline

import (
	"container/list"
	"sync"
)

// dedupSet is a bounded concurrent LRU set of trace fingerprints. The
// window keeps the most recently seen capacity entries; older ones fall
// out and their trace_ids may be processed again.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most recent
	index    map[uint64]*list.Element // fingerprint -> order node
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint64]*list.Element, capacity),
	}
}

// seen marks fp as seen and reports whether it was already present.
// Present entries are refreshed to the front of the window.
func (d *dedupSet) seen(fp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[fp]; ok {
		d.order.MoveToFront(el)
		return true
	}

	d.index[fp] = d.order.PushFront(fp)
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(uint64))
	}
	return false
}

// forget removes fp from the window. Used to roll back a seen mark when
// the record it belongs to was never actually taken.
func (d *dedupSet) forget(fp uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[fp]; ok {
		d.order.Remove(el)
		delete(d.index, fp)
	}
}

// len reports the current number of tracked fingerprints.
func (d *dedupSet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
