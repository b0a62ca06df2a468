// Package lifecycle counts the embedding application's active observers and
// requests teardown when the last one goes away.
package lifecycle

import "sync"

// Tracker counts attached observers. Detaching the last observer runs the
// teardown func once per drop to zero.
type Tracker struct {
	mu       sync.Mutex
	active   int
	teardown func()
}

func NewTracker(teardown func()) *Tracker {
	return &Tracker{teardown: teardown}
}

// Attach records one more observer and returns the new count.
func (t *Tracker) Attach() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	return t.active
}

// Detach records one observer leaving and returns the new count. The count
// never goes below zero; reaching zero triggers teardown.
func (t *Tracker) Detach() int {
	t.mu.Lock()
	t.active--
	if t.active > 0 {
		n := t.active
		t.mu.Unlock()
		return n
	}
	t.active = 0
	teardown := t.teardown
	t.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	return 0
}

// Active returns the current observer count.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
