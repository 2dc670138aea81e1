package watcher

import (
	"container/heap"
	"time"
)

// Debouncer is a leading-edge per-path filter. A path is admitted when it
// has not been admitted within the window; its expiry is queued in a
// min-heap that the owner drains periodically with Expire. It is not safe
// for concurrent use; the actor goroutine owns it.
type Debouncer struct {
	window time.Duration
	recent map[string]time.Time
	queue  expiryQueue
}

type expiry struct {
	path string
	at   time.Time
}

type expiryQueue []expiry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiry)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		recent: make(map[string]time.Time),
	}
}

// Admit reports whether path should be processed at now, recording it
// as recently processed when it is.
func (d *Debouncer) Admit(path string, now time.Time) bool {
	if until, ok := d.recent[path]; ok && now.Before(until) {
		return false
	}
	until := now.Add(d.window)
	d.recent[path] = until
	heap.Push(&d.queue, expiry{path: path, at: until})
	return true
}

// Forget removes path from the recently processed table so its next
// change is admitted.
func (d *Debouncer) Forget(path string) {
	delete(d.recent, path)
}

// Expire drops every entry whose window ended at or before now and
// returns how many were dropped.
func (d *Debouncer) Expire(now time.Time) int {
	n := 0
	for d.queue.Len() > 0 && !d.queue[0].at.After(now) {
		e := heap.Pop(&d.queue).(expiry)
		// a re-admission after a Forget queued a later expiry for the same path
		if until, ok := d.recent[e.path]; ok && until.Equal(e.at) {
			delete(d.recent, e.path)
			n++
		}
	}
	return n
}

// Len returns the number of paths currently debounced.
func (d *Debouncer) Len() int {
	return len(d.recent)
}

// Reset clears all state.
func (d *Debouncer) Reset() {
	d.recent = make(map[string]time.Time)
	d.queue = nil
}
