package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/utils"
)

// backendFor returns the remote server when one is named, else the local
// engine without resuming its unfinished items.
func backendFor(ctx context.Context, serverURL string) (native.Backend, func(), error) {
	if serverURL != "" {
		client := utils.NewSiphonHTTPClient(cfg.HTTPClient())
		return native.NewRemote(client, serverURL), func() {}, nil
	}
	c, err := openApp()
	if err != nil {
		return nil, nil, err
	}
	if err := c.Roots.Load(ctx); err != nil {
		c.Close()
		return nil, nil, err
	}
	return c.Orchestrator, func() { c.Close() }, nil
}

func serverURL(flag string) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	return "http://" + cfg.Server.Listen
}

func newListCmd() *cobra.Command {
	var scope, server string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, done, err := backendFor(ctx, server)
			if err != nil {
				return err
			}
			defer done()
			items, err := backend.List(ctx, scope)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				output.PrintInfo("No items")
				return nil
			}
			for _, it := range items {
				printItem(it)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Only items whose page is on this host")
	cmd.Flags().StringVarP(&server, "server", "s", "", "Ask a running siphon server instead of the local store")
	return cmd
}

func printItem(it domain.Item) {
	title := it.Title
	if title == "" {
		title = it.Anchor
	}
	if it.EpisodeInfo != "" {
		title += " " + it.EpisodeInfo
	}
	line := fmt.Sprintf("%s  %-11s %s", output.FDetail(it.ID), it.Status, title)
	switch it.Status {
	case domain.StatusCompleted:
		line += output.FDetail(fmt.Sprintf("  %s (%s)", it.FileName, humanize.IBytes(uint64(it.BytesReceived))))
		fmt.Println(output.FSuccess(line))
	case domain.StatusFailed:
		fmt.Println(output.FError(line + "  " + it.Error))
	case domain.StatusCancelled:
		fmt.Println(output.FWarning(line))
	default:
		fmt.Println(output.FPending(fmt.Sprintf("%s  %.0f%%", line, it.Progress)))
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [ID]",
		Short: "Run a finished item again as a new item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			item, err := s.app.Orchestrator.Retry(s.ctx, args[0])
			if err != nil {
				s.close()
				return err
			}
			if failed := s.wait([]string{item.ID}); failed > 0 {
				output.PrintError("Retry did not complete")
				os.Exit(1)
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "cancel [ID]",
		Short: "Cancel an item running in a siphon server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, done, err := backendFor(cmd.Context(), serverURL(server))
			if err != nil {
				return err
			}
			defer done()
			if err := backend.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.PrintSuccess("Cancelled " + args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "Server URL (default from server.listen)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "delete [ID]",
		Short: "Delete an item and its saved file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, done, err := backendFor(cmd.Context(), server)
			if err != nil {
				return err
			}
			defer done()
			if err := backend.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.PrintSuccess("Deleted " + args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "Ask a running siphon server instead of the local store")
	return cmd
}

func newQuotaCmd() *cobra.Command {
	var server, set string
	cmd := &cobra.Command{
		Use:   "quota [HOST]",
		Short: "Show or set the storage quota and usage of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope := domain.Scope(args[0])
			if scope == "" {
				scope = strings.ToLower(args[0])
			}
			backend, done, err := backendFor(ctx, server)
			if err != nil {
				return err
			}
			defer done()
			if set != "" {
				bytes, err := humanize.ParseBytes(set)
				if err != nil {
					return fmt.Errorf("invalid quota %q: %w", set, err)
				}
				if err := backend.SetQuota(ctx, scope, int64(bytes)); err != nil {
					return err
				}
			}
			quota, err := backend.Quota(ctx, scope)
			if err != nil {
				return err
			}
			stats, err := backend.StorageStats(ctx, scope)
			if err != nil {
				return err
			}
			limit := "unlimited"
			if quota > 0 {
				limit = humanize.IBytes(uint64(quota))
			}
			output.PrintHeader(scope)
			fmt.Println(output.FDetail(fmt.Sprintf("  %d items, %s used, quota %s", stats.Count, humanize.IBytes(uint64(stats.TotalBytes)), limit)))
			return nil
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "New quota (eg. 20GiB, 0 removes it)")
	cmd.Flags().StringVarP(&server, "server", "s", "", "Ask a running siphon server instead of the local store")
	return cmd
}
