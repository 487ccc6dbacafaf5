package watcher

import (
	"sort"
	"sync"
	"time"
)

// BatchDebouncer collects change events and emits them as one batch once no
// new event has arrived for the delay. Repeated events for a path collapse
// into one entry holding the most recent event, except that a file created
// inside the batch keeps reporting as created.
type BatchDebouncer struct {
	delay time.Duration
	emit  func([]Event)

	mu     sync.Mutex
	timer  *time.Timer
	events []Event
	byPath map[string]int
}

// NewBatchDebouncer creates a batch debouncer. A non-positive delay emits on
// the next timer tick.
func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay:  delay,
		emit:   emit,
		byPath: make(map[string]int),
	}
}

// Add records an event and restarts the quiet period.
func (b *BatchDebouncer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.byPath[event.Path]; ok {
		prev := b.events[i]
		if prev.Type == EventCreate && event.Type == EventModify {
			event.Type = EventCreate
		}
		b.events[i] = event
	} else {
		b.byPath[event.Path] = len(b.events)
		b.events = append(b.events, event)
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
}

// take empties the batch. Callers hold b.mu.
func (b *BatchDebouncer) take() []Event {
	events := b.events
	b.events = nil
	b.byPath = make(map[string]int)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return events
}

func (b *BatchDebouncer) flush() {
	b.mu.Lock()
	events := b.take()
	b.mu.Unlock()

	if len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel drops pending events without emitting them.
func (b *BatchDebouncer) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.take()
}

// Flush emits pending events immediately.
func (b *BatchDebouncer) Flush() {
	b.flush()
}

// EventCount returns the number of distinct paths pending.
func (b *BatchDebouncer) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// ChangedPaths returns the distinct paths of a batch, sorted.
func ChangedPaths(events []Event) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	sort.Strings(out)
	return out
}
