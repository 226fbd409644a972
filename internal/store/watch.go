package store

import (
	"context"
	"strings"
	"sync"
)

// watchHub fans change events out to prefix subscribers. Both store
// implementations are single-process, so notification stays in-process.
type watchHub struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[int]*subscriber)}
}

func (h *watchHub) subscribe(ctx context.Context, prefix string) <-chan Event {
	ch := make(chan Event, 64)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = &subscriber{prefix: prefix, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (h *watchHub) notify(events []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ev := range events {
		for _, sub := range h.subs {
			if !matchesPrefix(ev.Path, sub.prefix) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				// Slow watcher; drop rather than block writers.
			}
		}
	}
}

func matchesPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
