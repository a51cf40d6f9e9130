// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

// lru is an insertion/access-ordered set of workers keyed by id,
// grounded on original_source/pysrc/worker_cache.py's LRUCache (an
// OrderedDict with move-to-end on get/put). Go has no ordered map, so
// this pairs a map for O(1) lookup with a slice preserving order;
// pool sizes are small (bounded by the configured worker-slot count)
// so the O(n) reorder on access is not a concern.
type lru struct {
	order []string
	byID  map[string]*Worker
}

func newLRU() *lru {
	return &lru{byID: make(map[string]*Worker)}
}

func (l *lru) get(id string) (*Worker, bool) {
	w, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	l.moveToEnd(id)
	return w, true
}

func (l *lru) add(w *Worker) {
	if _, exists := l.byID[w.id]; !exists {
		l.order = append(l.order, w.id)
	}
	l.byID[w.id] = w
	l.moveToEnd(w.id)
}

func (l *lru) remove(id string) {
	if _, ok := l.byID[id]; !ok {
		return
	}
	delete(l.byID, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// removeOldest pops the least-recently-used entry, grounded on
// LRUCache.remove_end's OrderedDict.popitem(last=False).
func (l *lru) removeOldest() (*Worker, bool) {
	if len(l.order) == 0 {
		return nil, false
	}
	id := l.order[0]
	w := l.byID[id]
	l.remove(id)
	return w, true
}

func (l *lru) values() []*Worker {
	result := make([]*Worker, 0, len(l.order))
	for _, id := range l.order {
		result = append(result, l.byID[id])
	}
	return result
}

func (l *lru) ids() []string {
	return append([]string(nil), l.order...)
}

func (l *lru) len() int {
	return len(l.order)
}

func (l *lru) moveToEnd(id string) {
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.order = append(l.order, id)
}
