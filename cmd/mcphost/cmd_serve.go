package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run only the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(cmdCtx context.Context, rt *runtimesvc.Runtime) error {
				stop, err := rt.StartServer(cmdCtx, cfg.ServerAddr)
				if err != nil {
					return err
				}
				auth := "disabled"
				if cfg.AuthSecret != "" {
					auth = "bearer token"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mcphost API listening on %s (auth: %s)\n", cfg.ServerAddr, auth)
				<-cmdCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return stop(shutdownCtx)
			})
		},
	}
}
