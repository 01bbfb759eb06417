// Package registry tracks which batches are being worked on right now.
package registry

import (
	"sort"
	"sync"
)

// Batches is the set of batch ids currently owned by a worker. Manual
// triggers and background loops both consult it so one batch is never
// processed twice at the same time.
type Batches struct {
	mu     sync.Mutex
	active map[int64]struct{}
	onSize func(n int)
}

// NewBatches creates an empty registry. onSize, when set, is called with
// the new size after every change.
func NewBatches(onSize func(n int)) *Batches {
	return &Batches{
		active: make(map[int64]struct{}),
		onSize: onSize,
	}
}

// Register claims id. It returns false when id is already registered.
func (b *Batches) Register(id int64) bool {
	b.mu.Lock()
	if _, ok := b.active[id]; ok {
		b.mu.Unlock()
		return false
	}
	b.active[id] = struct{}{}
	n := len(b.active)
	b.mu.Unlock()

	b.report(n)
	return true
}

// Unregister releases id. Releasing an unknown id is a no-op.
func (b *Batches) Unregister(id int64) {
	b.mu.Lock()
	delete(b.active, id)
	n := len(b.active)
	b.mu.Unlock()

	b.report(n)
}

// IsRegistered reports whether id is currently claimed.
func (b *Batches) IsRegistered(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[id]
	return ok
}

// Active returns a sorted snapshot of the registered ids.
func (b *Batches) Active() []int64 {
	b.mu.Lock()
	out := make([]int64, 0, len(b.active))
	for id := range b.active {
		out = append(out, id)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Batches) report(n int) {
	if b.onSize != nil {
		b.onSize(n)
	}
}
