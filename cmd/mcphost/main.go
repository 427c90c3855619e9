package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/mcphost/framework"
	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

// flagCfg collects command-line overrides; zero values mean "not set".
var (
	flagCfg     runtimesvc.Config
	serverFlags []string
	cfg         runtimesvc.Config
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	chat := newChatCmd()
	root := &cobra.Command{
		Use:           "mcphost",
		Short:         "Ask questions answered with tools from MCP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(flagCfg, serverFlags)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		RunE: chat.RunE,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&flagCfg.Workspace, "workspace", "", "Workspace directory (default: current directory)")
	flags.StringVar(&flagCfg.ConfigPath, "config", "", "Config file (default: <workspace>/.mcphost/config.yaml)")
	flags.StringVar(&flagCfg.OllamaEndpoint, "ollama-endpoint", "", "Ollama endpoint URL")
	flags.StringVar(&flagCfg.OllamaModel, "model", "", "Ollama model name")
	flags.Float64Var(&flagCfg.Temperature, "temperature", 0, "Sampling temperature")
	flags.IntVar(&flagCfg.MaxIterations, "max-iterations", 0, "Maximum model/tool rounds per question")
	flags.DurationVar(&flagCfg.Timeout, "timeout", 0, "Response stream timeout")
	flags.StringArrayVar(&serverFlags, "server", nil, "Tool server as mechanism:package (repeatable, replaces the configured list)")
	flags.StringVar(&flagCfg.HistoryBackend, "history-backend", "", "History backend (sqlite or file)")
	flags.StringVar(&flagCfg.HistoryPath, "history", "", "History database or directory")
	flags.StringVar(&flagCfg.TelemetryPath, "telemetry", "", "Write JSON telemetry events to this file")
	flags.StringVar(&flagCfg.ServerAddr, "addr", "", "HTTP server listen address")
	flags.BoolVar(&flagCfg.Debug, "debug", false, "Verbose logging to stderr")
	root.Flags().BoolVar(&startServer, "serve", false, "Launch the HTTP API server alongside the TUI")

	root.AddCommand(
		chat,
		newAskCmd(),
		newServeCmd(),
		newServersCmd(),
		newHistoryCmd(),
		newTokenCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig layers defaults, the config file, and flags, in that order.
func loadConfig(flags runtimesvc.Config, servers []string) (runtimesvc.Config, error) {
	out := runtimesvc.DefaultConfig()
	if flags.Workspace != "" {
		out.Workspace = flags.Workspace
		out.ConfigPath = filepath.Join(flags.Workspace, ".mcphost", "config.yaml")
		out.LogPath = ""
		out.HistoryPath = ""
	}
	if flags.ConfigPath != "" {
		out.ConfigPath = flags.ConfigPath
	}
	fileCfg, err := runtimesvc.LoadConfigFile(out.ConfigPath)
	switch {
	case err == nil:
		out.Overlay(fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return out, err
	}
	out.Overlay(flags)
	if len(servers) > 0 {
		out.Servers = nil
		for _, raw := range servers {
			server, err := framework.ParseToolServerConfig(raw)
			if err != nil {
				return out, fmt.Errorf("--server: %w", err)
			}
			out.Servers = append(out.Servers, server)
		}
	}
	if err := out.Normalize(); err != nil {
		return out, err
	}
	return out, nil
}

func runWithRuntime(cmd *cobra.Command, fn func(context.Context, *runtimesvc.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtimesvc.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
