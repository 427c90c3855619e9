package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
	"github.com/lexcodex/mcphost/internal/mcphost/tui"
)

var startServer bool

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				return runTUI(ctx, rt)
			})
		},
	}
	cmd.Flags().BoolVar(&startServer, "serve", false, "Launch the HTTP API server alongside the TUI")
	return cmd
}

func runTUI(ctx context.Context, rt *runtimesvc.Runtime) error {
	if startServer {
		stop, err := rt.StartServer(ctx, cfg.ServerAddr)
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		defer stop(context.Background())
	}
	return tui.Run(ctx, rt)
}
