package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/store"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove leftover partial files under a local root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var h domain.RootHandle
			if len(args) == 1 {
				parsed, err := domain.ParseRootHandle(args[0])
				if err != nil {
					return err
				}
				h = parsed
			} else {
				c, err := openApp()
				if err != nil {
					return err
				}
				stored, ok, err := c.Store.LoadRoot(cmd.Context())
				c.Close()
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no root granted; pass a directory")
				}
				h = stored
			}
			root, err := store.NewLocalRoot(h)
			if err != nil {
				return err
			}
			removed, err := root.Clean()
			if err != nil {
				output.PrintError("Error cleaning up temporary files")
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial files", removed))
			return nil
		},
	}
}
