package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber describes one active reader of a hub stream.
type Subscriber struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Delivered uint64 `json:"delivered"`
}

// HubStats is a point-in-time view of a hub.
type HubStats struct {
	RunID       string       `json:"run_id"`
	FrameSeq    uint64       `json:"frame_seq"`
	ResultSeq   uint64       `json:"result_seq"`
	Subscribers []Subscriber `json:"subscribers"`
}

type subscription struct {
	topic     string
	delivered atomic.Uint64
}

// Hub pairs the frame slot of a pipeline run with the result slot of the
// recognition engine for the same run. A hub is not restartable: once its
// slots are closed every stream ends and a new run gets a new hub.
type Hub[F, R any] struct {
	runID   string
	frames  *Slot[F]
	results *Slot[R]

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewHub creates a hub over the given slots. A fresh run ID is assigned.
func NewHub[F, R any](frames *Slot[F], results *Slot[R]) *Hub[F, R] {
	return &Hub[F, R]{
		runID:   uuid.NewString(),
		frames:  frames,
		results: results,
		subs:    make(map[string]*subscription),
	}
}

// RunID identifies the stream run this hub belongs to.
func (h *Hub[F, R]) RunID() string {
	return h.runID
}

// Frames returns the frame slot.
func (h *Hub[F, R]) Frames() *Slot[F] {
	return h.frames
}

// Results returns the result slot.
func (h *Hub[F, R]) Results() *Slot[R] {
	return h.results
}

// StreamFrames yields the latest frames until the pipeline stops or ctx ends.
func (h *Hub[F, R]) StreamFrames(ctx context.Context) <-chan F {
	return subscribe(ctx, h, "frames", h.frames)
}

// StreamResults yields the latest result sets until the engine stops or ctx ends.
func (h *Hub[F, R]) StreamResults(ctx context.Context) <-chan R {
	return subscribe(ctx, h, "results", h.results)
}

// Close closes both slots, ending every open stream.
func (h *Hub[F, R]) Close() {
	h.frames.Close()
	h.results.Close()
}

// Stats reports sequence numbers and active subscribers.
func (h *Hub[F, R]) Stats() HubStats {
	_, fseq, _ := h.frames.Load()
	_, rseq, _ := h.results.Load()

	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HubStats{RunID: h.runID, FrameSeq: fseq, ResultSeq: rseq}
	for id, sub := range h.subs {
		stats.Subscribers = append(stats.Subscribers, Subscriber{
			ID:        id,
			Topic:     sub.topic,
			Delivered: sub.delivered.Load(),
		})
	}
	return stats
}

func subscribe[F, R, T any](ctx context.Context, h *Hub[F, R], topic string, slot *Slot[T]) <-chan T {
	id := uuid.NewString()
	sub := &subscription{topic: topic}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	in := slot.Stream(ctx)
	out := make(chan T)
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(out)
		}()
		for v := range in {
			select {
			case out <- v:
				sub.delivered.Add(1)
			case <-ctx.Done():
				// drain so the slot goroutine can exit
				for range in {
				}
				return
			}
		}
	}()
	return out
}
