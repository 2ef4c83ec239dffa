package tasks

import (
	"sync"
	"time"

	"ecash-console/go-client/pkg/models"
)

// Event is one registry change delivered to reactive consumers such as the
// dashboard's activity indicator.
type Event struct {
	Seq       int64             `json:"seq"`
	Task      models.ActiveTask `json:"task"`
	Removed   bool              `json:"removed,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Hub fans registry events out to subscribers. Slow subscribers lose events
// rather than block registry mutation.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	nextSub int
	subs    map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

func (h *Hub) Publish(task models.ActiveTask, removed bool) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	event := Event{
		Seq:       h.nextSeq,
		Task:      task,
		Removed:   removed,
		Timestamp: time.Now().UTC(),
	}
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	if buffer < 1 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	ch := make(chan Event, buffer)
	h.subs[h.nextSub] = ch
	return h.nextSub, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}
