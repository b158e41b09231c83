package orchestrator

import (
	"sync"
	"time"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/transport"
)

// reporter throttles transport progress into monotonic progress events.
type reporter struct {
	o      *Orchestrator
	id     string
	policy transport.Policy

	mu         sync.Mutex
	started    time.Time
	startBytes int64
	lastSent   time.Time
	lastBytes  int64
	latest     transport.Progress
}

func newReporter(o *Orchestrator, id string, policy transport.Policy) *reporter {
	return &reporter{o: o, id: id, policy: policy, lastBytes: -1}
}

func (r *reporter) report(p transport.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.o.now()
	if r.started.IsZero() {
		r.started, r.startBytes = now, p.BytesReceived
	}
	if p.BytesReceived <= r.lastBytes {
		return
	}
	r.latest = p
	if r.lastSent.IsZero() || now.Sub(r.lastSent) >= r.policy.ProgressInterval {
		r.emit(p, now)
	}
}

// flush emits the last position if the throttle held it back.
func (r *reporter) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest.BytesReceived > r.lastBytes {
		r.emit(r.latest, r.o.now())
	}
}

// eta is the remaining time at the average speed since the first report.
func (r *reporter) eta(p transport.Progress, now time.Time) *float64 {
	elapsed := now.Sub(r.started).Seconds()
	done := p.BytesReceived - r.startBytes
	if p.Total <= 0 || elapsed <= 0 || done <= 0 {
		return nil
	}
	remaining := float64(p.Total-p.BytesReceived) / (float64(done) / elapsed)
	return &remaining
}

// emit updates the item and publishes. Callers hold r.mu.
func (r *reporter) emit(p transport.Progress, now time.Time) {
	percent := r.policy.Percent(p)
	o := r.o
	o.mu.Lock()
	item, ok := o.items[r.id]
	if !ok || item.Status != domain.StatusDownloading {
		o.mu.Unlock()
		return
	}
	item.BytesReceived, item.TotalBytes, item.Progress = p.BytesReceived, p.Total, percent
	snap := item.Clone()
	o.mu.Unlock()

	r.lastSent, r.lastBytes = now, p.BytesReceived
	ctx := o.base
	o.persist(ctx, snap)
	o.publish(ctx, bus.Message{
		Type:          bus.TypeProgress,
		ID:            r.id,
		Progress:      percent,
		BytesReceived: p.BytesReceived,
		Size:          p.Total,
		ETA:           r.eta(p, now),
		SegmentsDone:  p.SegmentIndex,
		SegmentsTotal: p.SegmentTotal,
	})
}
