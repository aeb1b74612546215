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

	"github.com/pingcap/buildflow/engine/jobservice"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCmdJob creates the `job` command.
func newCmdJob(o *globalOptions) *cobra.Command {
	cmds := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Args:  cobra.NoArgs,
	}

	cmds.AddCommand(newCmdJobCreate(o))
	cmds.AddCommand(newCmdJobGet(o))
	cmds.AddCommand(newCmdJobList(o))
	cmds.AddCommand(newCmdJobUpdateStep(o))
	cmds.AddCommand(newCmdJobUpdateBatch(o))
	cmds.AddCommand(newCmdJobCancel(o))
	cmds.AddCommand(newCmdJobUpgradeGraph(o))
	cmds.AddCommand(newCmdJobSkipBatch(o))
	cmds.AddCommand(newCmdJobFailBatch(o))
	cmds.AddCommand(newCmdJobAssignLease(o))
	cmds.AddCommand(newCmdJobCancelLease(o))
	cmds.AddCommand(newCmdJobDequeue(o))
	cmds.AddCommand(newCmdJobDelete(o))

	return cmds
}

// jobCreateOptions defines flags for `job create`.
type jobCreateOptions struct {
	global *globalOptions

	id           string
	name         string
	graphHash    string
	priorityStr  string
	arguments    []string
	autoSubmit   bool
	updateIssues bool

	priority model.Priority
}

// addFlags receives a *cobra.Command reference and binds
// flags related to job creation to it.
func (o *jobCreateOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.id, "id", "", "job id, generated if empty")
	cmd.Flags().StringVar(&o.name, "name", "", "human readable job name")
	cmd.Flags().StringVar(&o.graphHash, "graph", "", "hash of the graph to run")
	cmd.Flags().StringVar(&o.priorityStr, "priority", model.PriorityNormal.String(), "job priority")
	cmd.Flags().StringArrayVar(&o.arguments, "arg", nil, "job argument, e.g. -Target=Compile, may be repeated")
	cmd.Flags().BoolVar(&o.autoSubmit, "auto-submit", false, "submit the change once the job succeeds")
	cmd.Flags().BoolVar(&o.updateIssues, "update-issues", false, "update build issues from the job outcome")
}

// validate checks that the provided job options are valid.
func (o *jobCreateOptions) validate() error {
	if err := requireFlag("graph", o.graphHash); err != nil {
		return err
	}
	priority, err := parsePriority(o.priorityStr)
	if err != nil {
		return err
	}
	if priority != nil {
		o.priority = *priority
	}
	return nil
}

// run the `job create` command.
func (o *jobCreateOptions) run(cmd *cobra.Command) error {
	return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
		job, err := svc.CreateJob(ctx, jobservice.CreateJobRequest{
			ID:           o.id,
			Name:         o.name,
			GraphHash:    o.graphHash,
			Arguments:    o.arguments,
			Priority:     o.priority,
			AutoSubmit:   o.autoSubmit,
			UpdateIssues: o.updateIssues,
		})
		if err != nil {
			return err
		}
		log.L().Info("create job successfully", zap.String("job_id", job.ID))
		return printJSON(cmd, job)
	})
}

// newCmdJobCreate creates the `job create` command.
func newCmdJobCreate(global *globalOptions) *cobra.Command {
	o := &jobCreateOptions{global: global}

	command := &cobra.Command{
		Use:   "create",
		Short: "Create a new job",
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

func newCmdJobGet(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
}

// jobSummary is the row printed by `job list`.
type jobSummary struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	GraphHash        string         `json:"graph-hash"`
	Priority         model.Priority `json:"priority"`
	SchedulePriority int            `json:"schedule-priority"`
	UpdateIndex      int64          `json:"update-index"`
	Batches          int            `json:"batches"`
	Aborted          bool           `json:"aborted,omitempty"`
}

func newCmdJobList(o *globalOptions) *cobra.Command {
	var graphHash string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				var (
					jobs []*model.Job
					err  error
				)
				if graphHash != "" {
					jobs, err = svc.ListJobsByGraph(ctx, graphHash)
				} else {
					jobs, err = svc.ListJobs(ctx)
				}
				if err != nil {
					return err
				}
				rows := make([]jobSummary, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, jobSummary{
						ID:               job.ID,
						Name:             job.Name,
						GraphHash:        job.GraphHash,
						Priority:         job.Priority,
						SchedulePriority: job.SchedulePriority,
						UpdateIndex:      job.UpdateIndex,
						Batches:          len(job.Batches),
						Aborted:          job.IsAborted(),
					})
				}
				return printJSON(cmd, rows)
			})
		},
	}
	cmd.Flags().StringVar(&graphHash, "graph", "", "only list the jobs running this graph")
	return cmd
}
