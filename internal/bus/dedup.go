package bus

import (
	"context"
	"math"
	"sync"
	"time"
)

const DefaultDedupWindow = 5 * time.Second

// Deduper drops repeated deliveries of one logical event. Discrete events are
// keyed by (type, id) within the window; progress events are kept only while
// bytesReceived grows and never after the item's terminal event, until that
// event leaves the window.
type Deduper struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	seen     map[string]time.Time
	progress map[string]int64
	finished map[string]time.Time
	pruned   time.Time
}

func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduper{window: window, now: time.Now, seen: make(map[string]time.Time), progress: make(map[string]int64), finished: make(map[string]time.Time)}
}

func (d *Deduper) Accept(msg Message) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if now.Sub(d.pruned) > d.window {
		for k, t := range d.seen {
			if now.Sub(t) >= d.window {
				delete(d.seen, k)
			}
		}
		for id, t := range d.finished {
			if now.Sub(t) >= d.window {
				delete(d.finished, id)
				delete(d.progress, id)
			}
		}
		d.pruned = now
	}
	if msg.Type == TypeProgress {
		last, ok := d.progress[msg.ID]
		if ok && msg.BytesReceived <= last {
			return false
		}
		d.progress[msg.ID] = msg.BytesReceived
		return true
	}
	key := msg.Key()
	if t, ok := d.seen[key]; ok && now.Sub(t) < d.window {
		return false
	}
	d.seen[key] = now
	if msg.Type.Terminal() && msg.ID != "" {
		d.progress[msg.ID] = math.MaxInt64
		d.finished[msg.ID] = now
	}
	return true
}

// Filter wraps h so it only sees messages d accepts.
func Filter(d *Deduper, h Handler) Handler {
	return func(ctx context.Context, msg Message) {
		if d.Accept(msg) {
			h(ctx, msg)
		}
	}
}
