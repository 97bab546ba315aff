// Package ranking implements the popularity-ranked backlog of ImageKeys
// awaiting a free display slot: a hash map keyed by fingerprint paired
// with a max-heap ordered by (count desc, first_seen asc), giving O(log n)
// bump/take. Grounded on the teacher's bounded, mutex-protected maps with
// insertion-order bookkeeping (room.go's msgOwners/msgOwnerKeys), adapted
// from "bounded FIFO eviction" to "unbounded-by-distinct-key, popularity
// ordered" per spec §5's backpressure design.
package ranking

import (
	"container/heap"
	"sync"
	"time"

	"matrixbridge/internal/imagekey"
)

type item struct {
	key       imagekey.Key
	count     uint32
	firstSeen time.Time
	index     int // heap.Interface bookkeeping
}

// maxHeap orders items by higher count first, ties broken by earlier
// firstSeen (FIFO within equal popularity).
type maxHeap []*item

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count > h[j].count
	}
	return h[i].firstSeen.Before(h[j].firstSeen)
}
func (h maxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *maxHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Buffer is the Ranking Buffer (component C). All mutations are expected
// to be serialized by the owning Controller, but the type guards itself
// with a mutex so it can also be exercised directly in tests and remains
// safe if that ownership assumption ever changes.
type Buffer struct {
	mu    sync.Mutex
	h     maxHeap
	index map[string]*item // fingerprint -> heap item
	now   func() time.Time
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{
		index: make(map[string]*item),
		now:   time.Now,
	}
}

// Bump records one occurrence of key: increments count if present, else
// inserts with count=1 and first_seen=now.
func (b *Buffer) Bump(key imagekey.Key) {
	fp := key.Fingerprint()
	b.mu.Lock()
	defer b.mu.Unlock()
	if it, ok := b.index[fp]; ok {
		it.count++
		heap.Fix(&b.h, it.index)
		return
	}
	it := &item{key: key, count: 1, firstSeen: b.now()}
	b.index[fp] = it
	heap.Push(&b.h, it)
}

// Peek returns the highest-priority key without removing it.
func (b *Buffer) Peek() (imagekey.Key, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.h) == 0 {
		return imagekey.Key{}, false
	}
	return b.h[0].key, true
}

// Take removes and returns the highest-priority key. Its count resets to
// 0 by virtue of the entry being removed entirely (spec invariant #4:
// count reset to 0 iff key removed).
func (b *Buffer) Take() (imagekey.Key, bool) {
	k, _, _, ok := b.TakeWithMeta()
	return k, ok
}

// TakeWithMeta is Take plus the popped entry's count and first_seen, so a
// caller that fails to act on the key (Busy/Unreachable race) can
// Reinsert it without losing its original priority.
func (b *Buffer) TakeWithMeta() (key imagekey.Key, count uint32, firstSeen time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.h) == 0 {
		return imagekey.Key{}, 0, time.Time{}, false
	}
	it := heap.Pop(&b.h).(*item)
	delete(b.index, it.key.Fingerprint())
	return it.key, it.count, it.firstSeen, true
}

// Reinsert puts key back with its original first_seen and count. If the
// key has been bumped again since it was taken, the two counts are summed
// and the earlier first_seen is kept.
// Used for the "priority inversion guard": a Busy/Unreachable race on a
// taken key must not lose its place in line.
func (b *Buffer) Reinsert(key imagekey.Key, count uint32, firstSeen time.Time) {
	fp := key.Fingerprint()
	b.mu.Lock()
	defer b.mu.Unlock()
	if it, ok := b.index[fp]; ok {
		it.count += count
		if firstSeen.Before(it.firstSeen) {
			it.firstSeen = firstSeen
		}
		heap.Fix(&b.h, it.index)
		return
	}
	it := &item{key: key, count: count, firstSeen: firstSeen}
	b.index[fp] = it
	heap.Push(&b.h, it)
}

// Clear removes all entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.h = nil
	b.index = make(map[string]*item)
}

// Size returns the number of distinct keys currently backlogged.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.h)
}
