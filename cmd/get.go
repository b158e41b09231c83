package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/orchestrator"
	"github.com/tanq16/siphon/internal/output"
)

func newGetCmd() *cobra.Command {
	var req orchestrator.Request
	cmd := &cobra.Command{
		Use:   "get [PAGE_OR_MEDIA_URL] [OPTIONS]",
		Short: "Find the media behind a page and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Href = args[0]
			s, err := newSession()
			if err != nil {
				return err
			}
			item, err := s.app.Orchestrator.Submit(s.ctx, req)
			if err != nil {
				s.close()
				return err
			}
			if failed := s.wait([]string{item.ID}); failed > 0 {
				output.PrintError("Download did not complete")
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Title used to name the saved file")
	cmd.Flags().StringVarP(&req.EpisodeInfo, "episode", "e", "", "Episode info appended to the title (eg. S01E02)")
	cmd.Flags().StringVarP(&req.URL, "url", "u", "", "Media URL already known for the page")
	return cmd
}
