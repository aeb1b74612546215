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
	"github.com/spf13/cobra"
)

// jobUpdateStepOptions defines flags for `job update-step`.
type jobUpdateStepOptions struct {
	global *globalOptions

	batchID     string
	stepID      string
	stateStr    string
	outcomeStr  string
	errorStr    string
	priorityStr string
	retryBy     string
	abort       bool
	abortedBy   string
	reason      string
	logID       string

	upd model.StepUpdate
}

func (o *jobUpdateStepOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&o.stepID, "step", "", "step id")
	cmd.Flags().StringVar(&o.stateStr, "state", "", "new step state")
	cmd.Flags().StringVar(&o.outcomeStr, "outcome", "", "new step outcome")
	cmd.Flags().StringVar(&o.errorStr, "error", "", "new step error")
	cmd.Flags().StringVar(&o.priorityStr, "priority", "", "priority override of the step")
	cmd.Flags().StringVar(&o.retryBy, "retry-by", "", "retry the step on behalf of this user")
	cmd.Flags().BoolVar(&o.abort, "abort", false, "request the step to be aborted")
	cmd.Flags().StringVar(&o.abortedBy, "aborted-by", "", "user aborting the step")
	cmd.Flags().StringVar(&o.reason, "reason", "", "cancellation reason")
	cmd.Flags().StringVar(&o.logID, "log-id", "", "log of the step")
}

func (o *jobUpdateStepOptions) validate() error {
	if err := requireFlag("batch", o.batchID); err != nil {
		return err
	}
	if err := requireFlag("step", o.stepID); err != nil {
		return err
	}
	o.upd = model.StepUpdate{
		BatchID:            model.BatchID(o.batchID),
		StepID:             model.StepID(o.stepID),
		RetryBy:            o.retryBy,
		AbortedBy:          o.abortedBy,
		CancellationReason: o.reason,
		LogID:              o.logID,
	}
	if o.stateStr != "" {
		state, err := model.ParseStepState(o.stateStr)
		if err != nil {
			return invalidParameter("invalid step state %s", o.stateStr)
		}
		o.upd.State = state
	}
	if o.outcomeStr != "" {
		outcome, err := model.ParseStepOutcome(o.outcomeStr)
		if err != nil {
			return invalidParameter("invalid step outcome %s", o.outcomeStr)
		}
		o.upd.Outcome = outcome
	}
	var err error
	if o.upd.Error, err = parseStepError(o.errorStr); err != nil {
		return err
	}
	if o.upd.Priority, err = parsePriority(o.priorityStr); err != nil {
		return err
	}
	if o.abort {
		abort := true
		o.upd.AbortRequested = &abort
	}
	return nil
}

func newCmdJobUpdateStep(global *globalOptions) *cobra.Command {
	o := &jobUpdateStepOptions{global: global}
	command := &cobra.Command{
		Use:   "update-step <job-id>",
		Short: "Update a step of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.UpdateStep(ctx, args[0], o.upd)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	o.addFlags(command)
	return command
}

// jobUpdateBatchOptions defines flags for `job update-batch`.
type jobUpdateBatchOptions struct {
	global *globalOptions

	batchID  string
	stateStr string
	errorStr string
	logID    string

	upd model.BatchUpdate
}

func (o *jobUpdateBatchOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&o.stateStr, "state", "", "new batch state")
	cmd.Flags().StringVar(&o.errorStr, "error", "", "new batch error")
	cmd.Flags().StringVar(&o.logID, "log-id", "", "log of the batch")
}

func (o *jobUpdateBatchOptions) validate() error {
	if err := requireFlag("batch", o.batchID); err != nil {
		return err
	}
	o.upd = model.BatchUpdate{BatchID: model.BatchID(o.batchID), LogID: o.logID}
	var err error
	if o.upd.State, err = parseBatchState(o.stateStr); err != nil {
		return err
	}
	if o.upd.Error, err = parseBatchError(o.errorStr); err != nil {
		return err
	}
	return nil
}

func newCmdJobUpdateBatch(global *globalOptions) *cobra.Command {
	o := &jobUpdateBatchOptions{global: global}
	command := &cobra.Command{
		Use:   "update-batch <job-id>",
		Short: "Update a batch of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.UpdateBatch(ctx, args[0], o.upd)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	o.addFlags(command)
	return command
}

// jobCancelOptions defines flags for `job cancel`.
type jobCancelOptions struct {
	global *globalOptions
	by     string
	reason string
}

func newCmdJobCancel(global *globalOptions) *cobra.Command {
	o := &jobCancelOptions{global: global}
	command := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Abort a job, running batches are told to stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("by", o.by); err != nil {
				return err
			}
			return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.UpdateJob(ctx, args[0], model.JobUpdate{
					AbortedBy:          o.by,
					CancellationReason: o.reason,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().StringVar(&o.by, "by", "", "user cancelling the job")
	command.Flags().StringVar(&o.reason, "reason", "", "cancellation reason")
	return command
}

func newCmdJobUpgradeGraph(global *globalOptions) *cobra.Command {
	var graphHash string
	command := &cobra.Command{
		Use:   "upgrade-graph <job-id>",
		Short: "Move a job to another version of its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("graph", graphHash); err != nil {
				return err
			}
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.UpdateGraph(ctx, args[0], graphHash)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().StringVar(&graphHash, "graph", "", "hash of the new graph")
	return command
}

// jobSkipBatchOptions defines flags for `job skip-batch`.
type jobSkipBatchOptions struct {
	global   *globalOptions
	batchID  string
	all      bool
	errorStr string

	reason model.BatchError
}

func (o *jobSkipBatchOptions) validate() error {
	if o.all == (o.batchID != "") {
		return invalidParameter("exactly one of --batch and --all is required")
	}
	reason, err := parseBatchError(o.errorStr)
	if err != nil {
		return err
	}
	o.reason = model.BatchErrorCancelled
	if reason != nil {
		o.reason = *reason
	}
	return nil
}

func newCmdJobSkipBatch(global *globalOptions) *cobra.Command {
	o := &jobSkipBatchOptions{global: global}
	command := &cobra.Command{
		Use:   "skip-batch <job-id>",
		Short: "Complete a batch, or every batch not started yet, without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				var (
					job *model.Job
					err error
				)
				if o.all {
					job, err = svc.SkipAllBatches(ctx, args[0], o.reason)
				} else {
					job, err = svc.SkipBatch(ctx, args[0], model.BatchID(o.batchID), o.reason)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().StringVar(&o.batchID, "batch", "", "batch id")
	command.Flags().BoolVar(&o.all, "all", false, "skip every batch which has not started")
	command.Flags().StringVar(&o.errorStr, "error", "", "batch error recorded as the reason, Cancelled by default")
	return command
}

func newCmdJobFailBatch(global *globalOptions) *cobra.Command {
	var (
		batchIdx int
		errorStr string
	)
	command := &cobra.Command{
		Use:   "fail-batch <job-id>",
		Short: "Complete a batch with an error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchErr, err := parseBatchError(errorStr)
			if err != nil {
				return err
			}
			if batchErr == nil {
				return invalidParameter("--error is required")
			}
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.FailBatch(ctx, args[0], batchIdx, *batchErr)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().IntVar(&batchIdx, "index", 0, "index of the batch in the job")
	command.Flags().StringVar(&errorStr, "error", "", "batch error")
	return command
}

func newCmdJobAssignLease(global *globalOptions) *cobra.Command {
	var lease model.LeaseAssignment
	command := &cobra.Command{
		Use:   "assign-lease <job-id>",
		Short: "Bind a batch to an agent lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("session", lease.SessionID); err != nil {
				return err
			}
			if err := requireFlag("lease", lease.LeaseID); err != nil {
				return err
			}
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.AssignLease(ctx, args[0], lease)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().IntVar(&lease.BatchIdx, "index", 0, "index of the batch in the job")
	command.Flags().StringVar(&lease.PoolID, "pool", "", "pool of the agent")
	command.Flags().StringVar(&lease.AgentID, "agent", "", "agent id")
	command.Flags().StringVar(&lease.SessionID, "session", "", "agent session id")
	command.Flags().StringVar(&lease.LeaseID, "lease", "", "lease id")
	command.Flags().StringVar(&lease.LogID, "log-id", "", "log of the batch")
	return command
}

func newCmdJobCancelLease(global *globalOptions) *cobra.Command {
	var batchIdx int
	command := &cobra.Command{
		Use:   "cancel-lease <job-id>",
		Short: "Detach a batch from its lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.CancelLease(ctx, args[0], batchIdx)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	command.Flags().IntVar(&batchIdx, "index", 0, "index of the batch in the job")
	return command
}

func newCmdJobDequeue(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue <job-id>",
		Short: "Remove a job from the dispatch queue until its next change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				job, err := svc.RemoveFromDispatchQueue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
}

func newCmdJobDelete(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.runWithService(func(ctx context.Context, svc *jobservice.Service) error {
				if err := svc.DeleteJob(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "job %s deleted\n", args[0])
				return err
			})
		},
	}
}
