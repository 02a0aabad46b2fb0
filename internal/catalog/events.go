package catalog

import (
	"sync"

	"github.com/heimdex/avatar-agent/internal/pipeline"
)

// JobEvent is a pipeline transition attributed to a job.
type JobEvent struct {
	JobID string `json:"job_id"`
	pipeline.Event
}

// Hub fans job events out to subscribers. Slow subscribers drop events
// rather than stall the render.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan JobEvent]struct{} // "" = all jobs
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan JobEvent]struct{})}
}

// Subscribe returns a channel of events for jobID ("" for every job) and a
// func that unsubscribes and closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan JobEvent, func()) {
	ch := make(chan JobEvent, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan JobEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to the job's subscribers and to global subscribers.
func (h *Hub) Publish(ev JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range []string{ev.JobID, ""} {
		for ch := range h.subs[key] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
