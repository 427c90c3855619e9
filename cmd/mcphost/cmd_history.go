package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently asked questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				transcripts, err := rt.Recent(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(transcripts) == 0 {
					fmt.Fprintln(out, "No questions recorded yet.")
					return nil
				}
				for _, t := range transcripts {
					status := "ok"
					if t.Error != "" {
						status = "error: " + t.Error
					}
					fmt.Fprintf(out, "%s  %s  [%s, %s]\n", t.StartedAt.Local().Format("2006-01-02 15:04:05"), t.Question, t.Model, status)
					if len(t.Tools) > 0 {
						fmt.Fprintf(out, "    tools: %s\n", strings.Join(t.Tools, ", "))
					}
					if full && len(t.Segments) > 0 {
						fmt.Fprintf(out, "%s\n\n", strings.Join(t.Segments, "\n\n"))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&full, "full", false, "Include the answer text")
	return cmd
}
