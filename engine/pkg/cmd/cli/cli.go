// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap/buildflow/engine/pkg/cmd/util"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewCmdBuildflow creates the `buildflow` root command.
func NewCmdBuildflow() *cobra.Command {
	o := newGlobalOptions()

	cmds := newCmdRoot(o)
	cmds.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Initialize signal handler set the current default context.
		if o.cancel == nil {
			o.cancel = util.InitCmd(cmd)
		}
		return nil
	}
	cmds.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return o.close()
	}

	// Binding the global flags.
	o.addFlags(cmds)
	cmds.AddCommand(newCmdCli(o))

	return cmds
}

// newCmdRoot creates the command tree without the interactive shell.
func newCmdRoot(o *globalOptions) *cobra.Command {
	cmds := &cobra.Command{
		Use:           "buildflow",
		Short:         "Schedule build graphs into batches of steps",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	cmds.AddCommand(newCmdGraph(o))
	cmds.AddCommand(newCmdJob(o))
	cmds.AddCommand(newCmdQueue(o))
	cmds.AddCommand(newCmdLogLevel())
	return cmds
}

// cliOptions defines flags for the `cli` command.
type cliOptions struct {
	interact   bool
	statusAddr string
}

// addFlags receives a *cobra.Command reference and binds
// flags related to the shell to it.
func (o *cliOptions) addFlags(c *cobra.Command) {
	if o == nil {
		return
	}
	c.Flags().BoolVarP(&o.interact, "interact", "i", false, "Run buildflow commands with readline")
	c.Flags().StringVar(&o.statusAddr, "status-addr", "", "serve /metrics on this address while the shell runs")
}

// newCmdCli creates the `cli` command.
func newCmdCli(global *globalOptions) *cobra.Command {
	o := &cliOptions{}

	command := &cobra.Command{
		Use:   "cli",
		Short: "Run an interactive shell sharing one metastore connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Whether to run interactively or not.
			if !o.interact {
				return cmd.Help()
			}
			if o.statusAddr != "" {
				status, err := startStatusServer(o.statusAddr)
				if err != nil {
					return err
				}
				defer func() {
					if err := status.close(); err != nil {
						log.Warn("close status server", zap.Error(err))
					}
				}()
			}
			return runShell(global, cmd.OutOrStdout())
		},
	}
	o.addFlags(command)
	return command
}

func runShell(o *globalOptions, out io.Writer) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "buildflow_history.tmp"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
		Stdout:            out,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runLine(o, line, out); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

// runLine executes one shell line against the shared options.
func runLine(o *globalOptions, line string, out io.Writer) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Annotate(err, "parse command")
	}
	if len(args) == 0 {
		return nil
	}

	command := newCmdRoot(o)
	command.SetArgs(args)
	command.SetOut(out)
	command.SetErr(out)
	return command.Execute()
}
