package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/native"
	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/server"
	"github.com/tanq16/siphon/internal/ui"
	"github.com/tanq16/siphon/internal/utils"
)

func newWatchCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the items of a running siphon server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchServer(ctx, serverURL(server))
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "Server URL (default from server.listen)")
	return cmd
}

func watchServer(ctx context.Context, base string) error {
	client := utils.NewSiphonHTTPClient(cfg.HTTPClient())
	manager := output.NewManager(os.Stdout, output.IsTerminal(os.Stdout))
	term := ui.NewTerminal(manager, nil)
	view := ui.NewView(term, bus.NewDeduper(cfg.Bus.DedupWindow))
	term.Attach(view)

	// Seed the view with current state before following new events.
	items, err := native.NewRemote(client, base).List(ctx, "")
	if err != nil {
		return err
	}
	view.Handle(ctx, bus.Message{Type: bus.TypeList, Nonce: "seed", Items: items})

	poller := bus.NewPoller(server.NewRemoteAttribute(client, base), cfg.Bus.PollInterval, view.Handle)
	manager.StartDisplay()
	err = poller.Run(ctx)
	manager.StopDisplay()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
