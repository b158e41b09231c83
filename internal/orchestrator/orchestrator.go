package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/classifier"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
	"github.com/tanq16/siphon/internal/probe"
	"github.com/tanq16/siphon/internal/store"
	"github.com/tanq16/siphon/internal/transport"
)

// Request is an inbound download intent.
type Request struct {
	ID          string
	Href        string
	Title       string
	EpisodeInfo string
	URL         string
	ParentID    string
}

type Options struct {
	Store    *store.Store
	Roots    *store.RootManager
	Resolver *classifier.Resolver
	Fetcher  *transport.Fetcher
	Bus      *bus.Bus
	Probe    probe.Policy
	// Opener runs hidden playback contexts; nil leaves discovery to the timeout fallback.
	Opener probe.Opener
	// Native receives requests first when set; the local engine is the fallback.
	Native native.Backend
	Now    func() time.Time
	NewID  func() string
}

// transfer is the live state of one item's pipeline.
type transfer struct {
	cancel    context.CancelFunc
	decisions chan probe.Decision
	finishing bool
}

// Orchestrator drives items through discovery, transport and storage. All
// registries are private to one instance.
type Orchestrator struct {
	store    *store.Store
	roots    *store.RootManager
	resolver *classifier.Resolver
	fetcher  *transport.Fetcher
	bus      *bus.Bus
	native   native.Backend
	probes   *probe.Engine
	now      func() time.Time
	newID    func() string

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	items  map[string]*domain.Item
	active map[string]*transfer
	closed bool
}

func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return ksuid.New().String() }
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    opts.Store,
		roots:    opts.Roots,
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		bus:      opts.Bus,
		native:   opts.Native,
		now:      opts.Now,
		newID:    opts.NewID,
		base:     base,
		stop:     stop,
		items:    make(map[string]*domain.Item),
		active:   make(map[string]*transfer),
	}
	o.probes = probe.NewEngine(probe.Options{
		Policy:     opts.Probe,
		Opener:     opts.Opener,
		OnDecision: o.decide,
		OnPhase:    o.phase,
		Now:        opts.Now,
	})
	return o
}

// Rehydrate restores the persisted root and re-runs every non-terminal item under its id.
func (o *Orchestrator) Rehydrate(ctx context.Context) (int, error) {
	if o.roots != nil {
		if err := o.roots.Load(ctx); err != nil {
			return 0, err
		}
	}
	items, err := o.store.ActiveItems(ctx)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		o.mu.Lock()
		if _, ok := o.items[it.ID]; ok {
			o.mu.Unlock()
			continue
		}
		o.items[it.ID] = it
		o.mu.Unlock()
		log.Info().Str("op", "orchestrator/rehydrate").Str("id", it.ID).Msgf("Resuming %s item %s", it.Status, it.Title)
		o.launch(it.ID)
	}
	return len(items), nil
}

// Submit registers a new item and starts its pipeline.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*domain.Item, error) {
	if req.Href == "" && req.URL == "" {
		return nil, fmt.Errorf("request needs an href or a url")
	}
	if req.Href == "" {
		req.Href = req.URL
	}
	if req.ID != "" {
		if existing, err := o.lookup(ctx, req.ID); err == nil {
			if existing.Status.IsActive() {
				log.Debug().Str("op", "orchestrator/submit").Str("id", req.ID).Msg("Duplicate request ignored")
				return existing, nil
			}
			return nil, domain.Fail(domain.ErrInvalidTransition, "orchestrator/submit", fmt.Errorf("id %s belongs to a %s item", req.ID, existing.Status))
		}
	}
	if err := o.checkQuota(ctx, domain.Scope(req.Href)); err != nil {
		return nil, err
	}
	item := &domain.Item{
		ID:          req.ID,
		ParentID:    req.ParentID,
		Anchor:      req.Href,
		Title:       req.Title,
		EpisodeInfo: req.EpisodeInfo,
		RequestURL:  req.URL,
		Status:      domain.StatusInitiated,
		CreatedAt:   o.now(),
	}
	if o.native != nil {
		id, err := o.native.Start(ctx, *item)
		if err == nil {
			item.ID = id
			log.Info().Str("op", "orchestrator/submit").Str("id", id).Msg("Delegated to native backend")
			o.publish(ctx, bus.Message{Type: bus.TypeInit, ID: id, Payload: item.Clone()})
			return item, nil
		}
		log.Warn().Str("op", "orchestrator/submit").Msgf("Native backend refused %s, using local engine: %v", req.Href, err)
	}
	if item.ID == "" {
		item.ID = o.newID()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator closed")
	}
	o.items[item.ID] = item
	snap := item.Clone()
	o.mu.Unlock()

	if err := o.store.SaveItem(ctx, snap); err != nil {
		o.mu.Lock()
		delete(o.items, item.ID)
		o.mu.Unlock()
		return nil, err
	}
	log.Info().Str("op", "orchestrator/submit").Str("id", snap.ID).Msgf("New item for %s", snap.Anchor)
	o.publish(ctx, bus.Message{Type: bus.TypeInit, ID: snap.ID, Payload: snap})
	o.launch(snap.ID)
	return snap, nil
}

func (o *Orchestrator) checkQuota(ctx context.Context, scope string) error {
	quota, err := o.store.Quota(ctx, scope)
	if err != nil || quota <= 0 {
		return err
	}
	stats, err := o.store.StorageStats(ctx, scope)
	if err != nil {
		return err
	}
	if stats.TotalBytes >= quota {
		return domain.Fail(domain.ErrPermission, "orchestrator/quota", fmt.Errorf("quota of %d bytes reached for %q", quota, scope))
	}
	return nil
}

// lookup returns a copy of the item from the registry or the store.
func (o *Orchestrator) lookup(ctx context.Context, id string) (*domain.Item, error) {
	o.mu.Lock()
	if it, ok := o.items[id]; ok {
		defer o.mu.Unlock()
		return it.Clone(), nil
	}
	o.mu.Unlock()
	it, err := o.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, domain.ErrNotFound
	}
	return it, nil
}

// Item returns the current state of id.
func (o *Orchestrator) Item(ctx context.Context, id string) (*domain.Item, error) {
	return o.lookup(ctx, id)
}

// Cancel stops an active item. Exactly one cancelled event is published.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	item, ok := o.items[id]
	if !ok {
		o.mu.Unlock()
		if stored, err := o.lookup(ctx, id); err == nil {
			return fmt.Errorf("%w: %s -> %s (%s)", domain.ErrInvalidTransition, stored.Status, domain.StatusCancelled, id)
		}
		if o.native != nil {
			return o.native.Cancel(ctx, id)
		}
		return domain.ErrNotFound
	}
	t := o.active[id]
	if t != nil && t.finishing {
		o.mu.Unlock()
		return fmt.Errorf("item %s is already completing", id)
	}
	if err := item.Transition(domain.StatusCancelled, o.now()); err != nil {
		o.mu.Unlock()
		return err
	}
	snap := item.Clone()
	o.mu.Unlock()

	if t != nil {
		t.cancel()
	}
	o.probes.Abandon(id)
	o.persist(ctx, snap)
	log.Info().Str("op", "orchestrator/cancel").Str("id", id).Msg("Item cancelled")
	o.publish(ctx, bus.Message{Type: bus.TypeCancelled, ID: id})
	return nil
}

// Retry starts a terminal item again under a new id chained to the old one.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*domain.Item, error) {
	prev, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsTerminal() {
		return nil, fmt.Errorf("item %s is still %s", id, prev.Status)
	}
	return o.Submit(ctx, Request{
		Href:        prev.Anchor,
		Title:       prev.Title,
		EpisodeInfo: prev.EpisodeInfo,
		URL:         prev.RequestURL,
		ParentID:    prev.ID,
	})
}

// Delete cancels id if needed, removes its stored file and forgets it.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	item, err := o.lookup(ctx, id)
	if errors.Is(err, domain.ErrNotFound) && o.native != nil {
		return o.native.Delete(ctx, id)
	}
	if err != nil {
		return err
	}
	if item.Status.IsActive() {
		if err := o.Cancel(ctx, id); err != nil {
			log.Warn().Str("op", "orchestrator/delete").Str("id", id).Msgf("Error cancelling before delete: %v", err)
		}
	}
	if item.FileName != "" && o.roots != nil {
		if root, ok := o.roots.Current(); ok {
			if err := root.Remove(ctx, item.FileName); err != nil {
				log.Warn().Str("op", "orchestrator/delete").Str("id", id).Msgf("Error removing %s: %v", item.FileName, err)
			}
		}
	}
	if err := o.store.DeleteItem(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	o.mu.Lock()
	delete(o.items, id)
	o.mu.Unlock()
	log.Info().Str("op", "orchestrator/delete").Str("id", id).Msg("Item deleted")
	return nil
}

// List returns the items of scope, oldest first, followed by the native backend's records.
func (o *Orchestrator) List(ctx context.Context, scope string) ([]domain.Item, error) {
	stored, err := o.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	out := make([]domain.Item, 0, len(stored))
	for _, it := range stored {
		if live, ok := o.items[it.ID]; ok {
			it = live
		}
		if it.InScope(scope) {
			out = append(out, *it.Clone())
		}
	}
	o.mu.Unlock()
	slices.SortStableFunc(out, func(a, b domain.Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if o.native != nil {
		remote, err := o.native.List(ctx, scope)
		if err != nil {
			log.Warn().Str("op", "orchestrator/list").Msgf("Error listing native backend: %v", err)
		}
		out = append(out, remote...)
	}
	return out, nil
}

// Observe credits a media response seen in a playback context to the oldest pending probe.
func (o *Orchestrator) Observe(obs probe.Observation) {
	o.probes.Attribute(obs)
}

// Close stops every pipeline without marking items terminal, so they rehydrate later.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()
	o.probes.Close()
	o.wg.Wait()
}

// Wait blocks until every running pipeline has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) persist(ctx context.Context, item *domain.Item) {
	if err := o.store.SaveItem(context.WithoutCancel(ctx), item); err != nil {
		log.Error().Str("op", "orchestrator/persist").Str("id", item.ID).Msgf("Error saving item: %v", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, msg bus.Message) {
	if err := o.bus.Publish(context.WithoutCancel(ctx), msg); err != nil {
		log.Warn().Str("op", "orchestrator/publish").Str("id", msg.ID).Msgf("Error publishing %s: %v", msg.Type, err)
	}
}

func (o *Orchestrator) phase(itemID, phase string) {
	o.publish(o.base, bus.Message{Type: bus.TypeDebug, ID: itemID, Phase: phase})
}

func (o *Orchestrator) decide(d probe.Decision) {
	o.mu.Lock()
	t := o.active[d.Session.ItemID]
	o.mu.Unlock()
	if t == nil {
		return
	}
	select {
	case t.decisions <- d:
	default:
	}
}
