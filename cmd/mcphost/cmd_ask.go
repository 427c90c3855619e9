package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/mcphost/framework"
	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

func newAskCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				servers := framework.NewServerList(rt.DefaultServers()...)
				var sink framework.Sink = newTerminalSink(cmd.OutOrStdout(), cmd.ErrOrStderr())
				if asJSON {
					sink = nil
				}
				answer, err := rt.Ask(ctx, servers, question, sink)
				if err != nil {
					return errors.New(runtimesvc.UserMessage(err))
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(answer)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "(%s, %d tokens)\n", answer.Duration.Round(time.Millisecond), answer.Usage.Total())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the finished answer as JSON instead of streaming")
	return cmd
}
