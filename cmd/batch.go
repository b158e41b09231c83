package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/siphon/internal/orchestrator"
	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/scheduler"
	"github.com/tanq16/siphon/internal/ui"
	"gopkg.in/yaml.v3"
)

// BatchFile lists the candidates of one batch run.
type BatchFile struct {
	Candidates []ui.Candidate `yaml:"candidates"`
}

func readBatch(path string) ([]orchestrator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	var reqs []orchestrator.Request
	for i, c := range batch.Candidates {
		if c.Href == "" && c.URL == "" {
			output.PrintWarning(fmt.Sprintf("Entry %d has neither href nor url, skipping", i+1))
			continue
		}
		reqs = append(reqs, orchestrator.Request{Href: c.Href, Title: c.Title, EpisodeInfo: c.EpisodeInfo, URL: c.URL})
	}
	return reqs, nil
}

func newBatchCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple pages from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := readBatch(args[0])
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				return fmt.Errorf("no valid entries found in the batch file")
			}
			s, err := newSession()
			if err != nil {
				return err
			}
			submit := func(ctx context.Context, req orchestrator.Request) (string, error) {
				item, err := s.app.Orchestrator.Submit(ctx, req)
				if err != nil {
					s.manager.Note(fmt.Sprintf("Could not queue %s: %v", req.Href, err))
					return "", err
				}
				return item.ID, nil
			}
			outcomes := scheduler.Run(s.ctx, reqs, workers, submit, s.settle)
			var ids []string
			for _, o := range outcomes {
				if o.ID != "" {
					ids = append(ids, o.ID)
				}
			}
			if failed := s.wait(ids); failed > 0 || len(ids) < len(reqs) {
				output.PrintError("Encountered failed operation(s)")
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of items to run at once (0 runs all)")
	return cmd
}
