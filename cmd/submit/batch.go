package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/OliverSchlueter/mail-submit/internal/submission"
	"github.com/spf13/cobra"
)

func batchCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Send every .eml file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := filepath.Glob(filepath.Join(args[0], "*.eml"))
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .eml files in %s", args[0])
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Batch.Concurrency = concurrency
			}

			s, err := newSubmitter()
			if err != nil {
				return err
			}
			defer writeMetrics(s)

			outcomes := s.SendFiles(cmd.Context(), paths)
			failed := submission.Failed(outcomes)
			slog.Info("Batch finished", slog.Int("total", len(outcomes)), slog.Int("failed", failed))

			for _, o := range outcomes {
				status := "ok"
				switch {
				case o.Temporary:
					status = "deferred, retry later: " + o.Err.Error()
				case o.Err != nil:
					status = o.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", o.Path, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d messages failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel sessions")
	return cmd
}
