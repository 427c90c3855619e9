package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lexcodex/mcphost/framework"
	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

// newServersCmd manages the tool-server list persisted in the config file.
func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List or edit the configured tool servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			printServers(cmd.OutOrStdout(), framework.NewServerList(cfg.Servers...))
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add [mechanism:package]",
			Short: "Append a tool server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				server, err := framework.ParseToolServerConfig(args[0])
				if err != nil {
					return err
				}
				return editServers(cmd.OutOrStdout(), func(list *framework.ServerList) error {
					list.Add(server)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm [n...]",
			Short: "Remove tool servers by number",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				indices, err := parseServerNumbers(args)
				if err != nil {
					return err
				}
				return editServers(cmd.OutOrStdout(), func(list *framework.ServerList) error {
					return list.RemoveMany(indices)
				})
			},
		},
	)
	return cmd
}

func parseServerNumbers(args []string) ([]int, error) {
	indices := make([]int, 0, len(args))
	for _, raw := range args {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a server number", raw)
		}
		indices = append(indices, n-1)
	}
	return indices, nil
}

// editServers applies fn to the effective list and writes it back.
func editServers(out io.Writer, fn func(*framework.ServerList) error) error {
	list := framework.NewServerList(cfg.Servers...)
	if err := fn(list); err != nil {
		return err
	}
	if list.Len() == 0 {
		// an empty list in the file falls back to the default server
		return errors.New("at least one tool server must remain configured; use /rm in the chat to run without any")
	}
	fileCfg, err := runtimesvc.LoadConfigFile(cfg.ConfigPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fileCfg.Servers = list.All()
	if err := runtimesvc.SaveConfigFile(cfg.ConfigPath, fileCfg); err != nil {
		return err
	}
	cfg.Servers = fileCfg.Servers
	printServers(out, list)
	return nil
}

func printServers(out io.Writer, list *framework.ServerList) {
	if list.Len() == 0 {
		fmt.Fprintln(out, "No tool servers configured; questions will be refused until one is added.")
		return
	}
	for i, server := range list.All() {
		fmt.Fprintf(out, "%d. %s\n", i+1, server)
	}
}
