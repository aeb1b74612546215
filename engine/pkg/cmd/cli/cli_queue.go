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
	"io"
	"text/tabwriter"

	"github.com/pingcap/buildflow/engine/jobservice"
	"github.com/spf13/cobra"
)

// newCmdQueue creates the `queue` command.
func newCmdQueue(o *globalOptions) *cobra.Command {
	cmds := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the dispatch queue",
		Args:  cobra.NoArgs,
	}
	cmds.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the dispatchable jobs, highest schedule priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				jobs, err := svc.GetDispatchQueue(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				writeRow(w, "ID", "SCHEDULE-PRIORITY", "PRIORITY", "NAME")
				for _, job := range jobs {
					writeRow(w, job.ID, fmt.Sprint(job.SchedulePriority), job.Priority.String(), job.Name)
				}
				return w.Flush()
			})
		},
	})
	return cmds
}

func writeRow(w io.Writer, cols ...string) {
	for i, col := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
}
