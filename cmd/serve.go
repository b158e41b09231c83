package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/orchestrator"
	"github.com/tanq16/siphon/internal/server"
	"github.com/tanq16/siphon/internal/ui"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var listen, watchFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if watchFile != "" {
				cfg.Scan.WatchFile = watchFile
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// Nobody answers prompts in the background; the root comes from config or the API.
			c, err := openServer()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Start(ctx); err != nil {
				return err
			}
			srv := server.New(c.Orchestrator, bus.Filter(bus.NewDeduper(cfg.Bus.DedupWindow), c.Orchestrator.Handle), c.Bridge)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, cfg.Server.Listen) })
			if cfg.Scan.WatchFile != "" {
				src := ui.FileSource{Path: cfg.Scan.WatchFile}
				scanner := ui.NewScanner(src, cfg.Scan.Interval, cfg.Scan.Debounce)
				submit := func(cand ui.Candidate) {
					item, err := c.Orchestrator.Submit(gctx, orchestrator.Request{Href: cand.Href, Title: cand.Title, EpisodeInfo: cand.EpisodeInfo, URL: cand.URL})
					if err != nil {
						log.Warn().Str("op", "cmd/serve").Msgf("Could not queue %s: %v", cand.Href, err)
						return
					}
					log.Info().Str("op", "cmd/serve").Str("id", item.ID).Msgf("Queued %s", cand.Href)
				}
				g.Go(func() error { return scanner.Run(gctx, submit) })
				g.Go(func() error { return src.Watch(gctx, scanner.Trigger) })
			}
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides server.listen)")
	cmd.Flags().StringVarP(&watchFile, "watch", "w", "", "YAML candidate file to watch and queue from")
	return cmd
}
