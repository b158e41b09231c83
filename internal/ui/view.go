package ui

import (
	"context"
	"slices"
	"sync"

	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
)

// View is one context's copy of item state, built only from bus events.
type View struct {
	adapter Adapter
	dedup   *bus.Deduper

	mu        sync.Mutex
	items     map[string]*domain.Item
	mutations int
	root      *domain.RootHandle
	transfers map[string]bus.Message
}

func NewView(adapter Adapter, dedup *bus.Deduper) *View {
	if dedup == nil {
		dedup = bus.NewDeduper(0)
	}
	return &View{adapter: adapter, dedup: dedup, items: make(map[string]*domain.Item), transfers: make(map[string]bus.Message)}
}

// Handle applies an event delivered over any bus path.
func (v *View) Handle(_ context.Context, msg bus.Message) {
	if !v.dedup.Accept(msg) {
		return
	}
	v.mu.Lock()
	changed := v.apply(msg)
	var snap []domain.Item
	for _, it := range changed {
		snap = append(snap, *it.Clone())
	}
	v.mu.Unlock()
	if v.adapter == nil {
		return
	}
	if msg.Type == bus.TypeDelete {
		v.adapter.Forget(msg.ID)
	}
	for _, it := range snap {
		v.adapter.Render(it)
	}
}

// apply mutates the mirror. Callers hold v.mu.
func (v *View) apply(msg bus.Message) []*domain.Item {
	if msg.Type == bus.TypeRootHandle && msg.Handle != nil {
		h := *msg.Handle
		v.root = &h
		return nil
	}
	if msg.Type == bus.TypeList {
		out := make([]*domain.Item, 0, len(msg.Items))
		for i := range msg.Items {
			it := msg.Items[i]
			v.items[it.ID] = &it
			out = append(out, &it)
		}
		v.mutations++
		return out
	}
	if msg.Type == bus.TypeDelete {
		delete(v.items, msg.ID)
		v.mutations++
		return nil
	}
	if msg.Type == bus.TypeInit && msg.Payload != nil {
		it := *msg.Payload
		v.items[msg.ID] = &it
		v.mutations++
		return []*domain.Item{&it}
	}
	it, ok := v.items[msg.ID]
	if !ok {
		return nil
	}
	if next, ok := eventStatus(msg.Type); ok && !(next == it.Status && next.IsActive()) && !domain.CanReach(it.Status, next) {
		return nil
	}
	switch msg.Type {
	case bus.TypeProgress:
		it.Status = domain.StatusDownloading
		it.Progress, it.BytesReceived, it.TotalBytes = msg.Progress, msg.BytesReceived, msg.Size
		v.transfers[msg.ID] = msg
	case bus.TypeComplete:
		it.Status, it.FileName, it.Partial = domain.StatusCompleted, msg.FileName, msg.Partial
		it.BytesReceived, it.TotalBytes, it.Progress = msg.Size, msg.Size, 100
	case bus.TypeFailed:
		it.Status, it.Error = domain.StatusFailed, msg.Error
	case bus.TypeCancelled:
		it.Status = domain.StatusCancelled
	case bus.TypeDebug:
		if it.Status == domain.StatusInitiated {
			it.Status = domain.StatusProbing
		}
	default:
		return nil
	}
	v.mutations++
	return []*domain.Item{it}
}

// eventStatus is the status an item event moves the mirror to.
func eventStatus(t bus.Type) (domain.Status, bool) {
	switch t {
	case bus.TypeProgress:
		return domain.StatusDownloading, true
	case bus.TypeComplete:
		return domain.StatusCompleted, true
	case bus.TypeFailed:
		return domain.StatusFailed, true
	case bus.TypeCancelled:
		return domain.StatusCancelled, true
	}
	return "", false
}

// Items lists the mirror in creation order.
func (v *View) Items() []domain.Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Item, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, *it.Clone())
	}
	slices.SortStableFunc(out, func(a, b domain.Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (v *View) Item(id string) (domain.Item, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	it, ok := v.items[id]
	if !ok {
		return domain.Item{}, false
	}
	return *it.Clone(), true
}

// Transfer returns the last progress event seen for id.
func (v *View) Transfer(id string) (bus.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg, ok := v.transfers[id]
	return msg, ok
}

// Mutations counts the changes applied so far.
func (v *View) Mutations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutations
}

// Root is the last root capability announced in this context.
func (v *View) Root() (domain.RootHandle, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.root == nil {
		return domain.RootHandle{}, false
	}
	return *v.root, true
}
