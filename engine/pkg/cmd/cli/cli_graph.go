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
	"context"
	"fmt"

	"github.com/pingcap/buildflow/engine/jobservice"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCmdGraph creates the `graph` command.
func newCmdGraph(o *globalOptions) *cobra.Command {
	cmds := &cobra.Command{
		Use:   "graph",
		Short: "Manage graphs",
		Args:  cobra.NoArgs,
	}
	cmds.AddCommand(newCmdGraphImport(o))
	cmds.AddCommand(newCmdGraphShow(o))
	return cmds
}

// graphImportOptions defines flags for `graph import`.
type graphImportOptions struct {
	global *globalOptions
	file   string
}

func (o *graphImportOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "file", "", "path of the yaml graph definition")
}

func (o *graphImportOptions) validate() error {
	return requireFlag("file", o.file)
}

// run the `graph import` command.
func (o *graphImportOptions) run(cmd *cobra.Command) error {
	def, err := model.LoadGraphDefinition(o.file)
	if err != nil {
		return err
	}
	graph, err := def.Compile()
	if err != nil {
		return err
	}
	return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
		graph, err := svc.ImportGraph(ctx, graph)
		if err != nil {
			return err
		}
		log.Info("import graph successfully", zap.String("file", o.file), zap.String("hash", graph.Hash))
		_, err = fmt.Fprintln(cmd.OutOrStdout(), graph.Hash)
		return err
	})
}

func newCmdGraphImport(global *globalOptions) *cobra.Command {
	o := &graphImportOptions{global: global}
	command := &cobra.Command{
		Use:   "import",
		Short: "Import a graph definition and print its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}

func newCmdGraphShow(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <hash>",
		Short: "Show a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				graph, err := svc.GetGraph(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, struct {
					Hash string `json:"hash"`
					*model.Graph
				}{Hash: graph.Hash, Graph: graph})
			})
		},
	}
}
