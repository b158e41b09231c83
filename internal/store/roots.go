package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/transport"
)

// Prompter asks the user for storage decisions. An empty answer means declined.
type Prompter interface {
	RequestRoot(ctx context.Context) (string, error)
	SaveAs(ctx context.Context, suggested string) (string, error)
}

// RootOpener turns a persisted handle into a usable root.
type RootOpener func(ctx context.Context, h domain.RootHandle) (Root, error)

func OpenRoot(ctx context.Context, h domain.RootHandle) (Root, error) {
	switch h.Scheme {
	case domain.RootLocal:
		return NewLocalRoot(h)
	case domain.RootS3:
		client, err := NewS3Client(ctx)
		if err != nil {
			return nil, domain.Fail(domain.ErrPermission, "store/root", err)
		}
		return NewS3Root(h, client)
	}
	return nil, fmt.Errorf("unsupported root scheme %q", h.Scheme)
}

var timeNow = time.Now

var errNoRoot = errors.New("no root directory granted")

// RootManager owns the process-wide root. The user is asked for it at most
// once on demand, plus one more time through an explicit request after a denial.
type RootManager struct {
	store    *Store
	prompter Prompter
	open     RootOpener

	mu       sync.Mutex
	root     Root
	prompted bool
	retried  bool
}

func NewRootManager(store *Store, prompter Prompter, open RootOpener) *RootManager {
	if open == nil {
		open = OpenRoot
	}
	return &RootManager{store: store, prompter: prompter, open: open}
}

// Load restores the persisted root, if any.
func (m *RootManager) Load(ctx context.Context) error {
	h, ok, err := m.store.LoadRoot(ctx)
	if err != nil || !ok {
		return err
	}
	root, err := m.open(ctx, h)
	if err != nil {
		log.Warn().Str("op", "store/root").Msgf("Stored root %s is no longer usable: %v", h, err)
		return nil
	}
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
	log.Debug().Str("op", "store/root").Msgf("Restored root %s", h)
	return nil
}

func (m *RootManager) Current() (Root, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, m.root != nil
}

// Set grants h as the root for every following item.
func (m *RootManager) Set(ctx context.Context, h domain.RootHandle) (Root, error) {
	root, err := m.open(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRoot(ctx, root.Handle()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
	log.Info().Str("op", "store/root").Msgf("Root set to %s", h)
	return root, nil
}

func (m *RootManager) ask(ctx context.Context) (Root, error) {
	if m.prompter == nil {
		return nil, domain.Fail(domain.ErrPermission, "store/root", errNoRoot)
	}
	loc, err := m.prompter.RequestRoot(ctx)
	if err != nil {
		return nil, domain.Fail(domain.ErrPermission, "store/root", err)
	}
	if loc == "" {
		return nil, domain.Fail(domain.ErrPermission, "store/root", fmt.Errorf("root request declined"))
	}
	h, err := domain.ParseRootHandle(loc)
	if err != nil {
		return nil, domain.Fail(domain.ErrPermission, "store/root", err)
	}
	h.GrantedAt = timeNow()
	return m.Set(ctx, h)
}

// Acquire returns the root, prompting the user the first time none is set.
func (m *RootManager) Acquire(ctx context.Context) (Root, error) {
	m.mu.Lock()
	if m.root != nil {
		defer m.mu.Unlock()
		return m.root, nil
	}
	if m.prompted {
		m.mu.Unlock()
		return nil, domain.Fail(domain.ErrPermission, "store/root", errNoRoot)
	}
	m.prompted = true
	m.mu.Unlock()
	return m.ask(ctx)
}

// Request is the explicit retry path after the first prompt was declined.
func (m *RootManager) Request(ctx context.Context) (Root, error) {
	m.mu.Lock()
	if m.root != nil {
		defer m.mu.Unlock()
		return m.root, nil
	}
	if m.retried {
		m.mu.Unlock()
		return nil, domain.Fail(domain.ErrPermission, "store/root", fmt.Errorf("root already requested twice"))
	}
	m.retried = true
	m.prompted = true
	m.mu.Unlock()
	return m.ask(ctx)
}

// Revoke forgets a root that stopped working so the next item prompts once more.
func (m *RootManager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	m.root = nil
	m.prompted = false
	m.mu.Unlock()
	return m.store.ClearRoot(ctx)
}

// Sink opens the destination for one item: the root when granted, a save-as
// prompt otherwise. A nil sink with a nil error means memory only.
func (m *RootManager) Sink(ctx context.Context, itemID, name string) (transport.Sink, error) {
	root, err := m.Acquire(ctx)
	if err == nil {
		sink, cerr := root.Create(ctx, itemID, name)
		if cerr == nil {
			return sink, nil
		}
		if !errors.Is(cerr, domain.ErrPermission) {
			return nil, cerr
		}
		log.Warn().Str("op", "store/root").Msgf("Root %s refused writes: %v", root.Handle(), cerr)
		if rerr := m.Revoke(ctx); rerr != nil {
			log.Error().Str("op", "store/root").Msgf("Error clearing root: %v", rerr)
		}
	}
	if m.prompter == nil {
		return nil, nil
	}
	path, perr := m.prompter.SaveAs(ctx, name)
	if perr != nil || path == "" {
		log.Warn().Str("op", "store/root").Str("id", itemID).Msg("No storage granted, keeping result in memory")
		return nil, nil
	}
	return SaveAsSink(path)
}
