package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/output"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "root",
		Short: "Manage the directory downloads are saved into",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [DIR_OR_S3_URL]",
		Short: "Grant a directory or s3://bucket/prefix as the save root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := domain.ParseRootHandle(args[0])
			if err != nil {
				return err
			}
			h.GrantedAt = time.Now()
			c, err := openApp()
			if err != nil {
				return err
			}
			defer c.Close()
			if _, err := c.Roots.Set(cmd.Context(), h); err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Saving into %s", h))
			return nil
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Show the current save root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openApp()
			if err != nil {
				return err
			}
			defer c.Close()
			h, ok, err := c.Store.LoadRoot(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				output.PrintWarning("No root granted yet; the first download will ask for one")
				return nil
			}
			output.PrintInfo(fmt.Sprintf("%s (granted %s)", h, h.GrantedAt.Format(time.DateTime)))
			return nil
		},
	})
	return cmd
}
