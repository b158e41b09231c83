package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/classifier"
	"github.com/tanq16/siphon/internal/config"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
	"github.com/tanq16/siphon/internal/orchestrator"
	"github.com/tanq16/siphon/internal/probe"
	"github.com/tanq16/siphon/internal/store"
	"github.com/tanq16/siphon/internal/transport"
	"github.com/tanq16/siphon/internal/utils"
)

// Context holds the engine and the shared resources of one siphon process.
type Context struct {
	Config       *config.Config
	Store        *store.Store
	Roots        *store.RootManager
	Local        *bus.Local
	Bridge       bus.Attribute
	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Client       *utils.SiphonHTTPClient

	unsubscribe func()
}

type Options struct {
	Prompter store.Prompter
	// Client replaces the client built from configuration.
	Client *utils.SiphonHTTPClient
	// Bridge replaces the file attribute named in configuration.
	Bridge bus.Attribute
}

// NewContext wires storage, transport, discovery and the bus around one orchestrator.
func NewContext(cfg *config.Config, opts Options) (*Context, error) {
	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient()
	client := opts.Client
	if client == nil {
		client = utils.NewSiphonHTTPClient(hc)
	}
	attr := opts.Bridge
	if attr == nil {
		fa, err := bus.NewFileAttribute(cfg.Bus.BridgeFile, cfg.Bus.RingSize)
		if err != nil {
			st.Close()
			return nil, err
		}
		attr = fa
	}

	local := bus.NewLocal()
	senders := []bus.Sender{local}
	if cfg.Bus.ParentURL != "" {
		senders = append(senders, bus.NewParentHTTP(client, cfg.Bus.ParentURL))
	}
	senders = append(senders, bus.NewBridge(attr))
	b := bus.New(senders...)

	report := func(obs probe.Observation) {
		err := b.Publish(context.Background(), bus.Message{
			Type:        bus.TypeMediaProbe,
			URL:         obs.URL,
			ContentType: obs.ContentType,
			Status:      obs.Status,
			Phase:       obs.Context,
		})
		if err != nil {
			log.Warn().Str("op", "app/probe").Msgf("Could not report media response: %v", err)
		}
	}
	sandbox := probe.NewSandbox(client.Intercept(probe.Intercept("sandbox", report)), hc.UserAgent)

	var backend native.Backend
	if cfg.Server.Native != "" {
		backend = native.NewRemote(client, cfg.Server.Native)
	}
	roots := store.NewRootManager(st, opts.Prompter, nil)
	o := orchestrator.New(orchestrator.Options{
		Store:    st,
		Roots:    roots,
		Resolver: classifier.NewResolver(client, classifier.DefaultPolicy()),
		Fetcher:  transport.NewFetcher(client, cfg.TransportPolicy()),
		Bus:      b,
		Probe:    cfg.ProbePolicy(),
		Opener:   sandbox,
		Native:   backend,
	})
	c := &Context{
		Config:       cfg,
		Store:        st,
		Roots:        roots,
		Local:        local,
		Bridge:       attr,
		Bus:          b,
		Orchestrator: o,
		Client:       client,
	}
	c.unsubscribe = local.Subscribe(bus.Filter(bus.NewDeduper(cfg.Bus.DedupWindow), o.Handle))
	return c, nil
}

// Start applies the configured root and resumes unfinished items.
func (c *Context) Start(ctx context.Context) error {
	if err := c.Roots.Load(ctx); err != nil {
		return err
	}
	if _, ok := c.Roots.Current(); !ok && c.Config.Root != "" {
		h, err := domain.ParseRootHandle(c.Config.Root)
		if err != nil {
			return fmt.Errorf("invalid root %q: %w", c.Config.Root, err)
		}
		h.GrantedAt = time.Now()
		if _, err := c.Roots.Set(ctx, h); err != nil {
			return err
		}
	}
	n, err := c.Orchestrator.Rehydrate(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Str("op", "app/start").Msgf("Resuming %d unfinished items", n)
	}
	return nil
}

// Send publishes an inbound intent on every bus path.
func (c *Context) Send(ctx context.Context, msg bus.Message) error {
	return c.Bus.Publish(ctx, msg)
}

// Subscribe attaches a view-side handler to the direct path.
func (c *Context) Subscribe(h bus.Handler) func() {
	return c.Local.Subscribe(h)
}

// Close stops transfers (keeping partial files for the next start) and releases the store.
func (c *Context) Close() error {
	c.Orchestrator.Close()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.Store.Close()
}
