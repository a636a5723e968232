// Package session maps device instance paths to stable numeric session ids.
//
// Ids are slot indexes in a prime-sized open addressing table, so a path
// keeps its id for the lifetime of the table no matter how often the device
// tree is rebuilt. Entries are never removed. Id 0 is reserved to mean
// "no session": it is returned for empty paths and when the table is full.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSize is the default table capacity. Prime, so the double-hash
// probe sequence visits every slot.
const DefaultSize = 1021

// Table is safe for concurrent use. Lookups of already-published entries
// take no lock; only writers serialize.
type Table struct {
	mu    sync.Mutex
	size  uint64
	slots []atomic.Pointer[string]
}

// NewTable returns a table with the default capacity.
func NewTable() *Table { return newTable(DefaultSize) }

// newTable requires size to be prime and at least 3.
func newTable(size uint64) *Table {
	return &Table{size: size, slots: make([]atomic.Pointer[string], size)}
}

// ID returns the session id for path, allocating a slot on first sight.
// It returns 0 for an empty path or when the table has no free slot left.
func (t *Table) ID(path string) uint64 {
	if path == "" {
		return 0
	}

	// djb2 over the path bytes.
	r := uint64(5381)
	for i := 0; i < len(path); i++ {
		r = (r << 5) + r + uint64(path[i])
	}

	start := r % t.size
	if start == 0 {
		start++ // 0 means failure
	}
	// Second hash, relatively prime to the table size, steps through every
	// slot before returning to start.
	step := 1 + start%(t.size-2)

	if id, found, _ := t.probe(start, step, path); found {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-probe under the lock: another writer may have published the path
	// (or taken the hole) in the meantime.
	id, found, hole := t.probe(start, step, path)
	if found {
		return id
	}
	if !hole {
		slog.Error("session table is full", "capacity", t.size)
		return 0
	}
	s := path
	t.slots[id].Store(&s)
	return id
}

// probe follows the double-hash sequence from start. It returns
// (slot, true, false) when path is already published, (hole, false, true)
// when an empty slot ends the search, and (0, false, false) when the
// sequence wrapped with no hole. Slot 0 is skipped so it is never handed
// out as an id.
func (t *Table) probe(start, step uint64, path string) (uint64, bool, bool) {
	idx := start
	for {
		cur := t.slots[idx].Load()
		if cur == nil {
			return idx, false, true
		}
		if *cur == path {
			return idx, true, false
		}
		if idx >= step {
			idx -= step
		} else {
			idx += t.size - step
		}
		if idx == 0 {
			idx = t.size - step
		}
		if idx == start {
			return 0, false, false
		}
	}
}

// Len reports how many paths have been interned.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].Load() != nil {
			n++
		}
	}
	return n
}
