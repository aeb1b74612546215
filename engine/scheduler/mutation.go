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

package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/logutil"
	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/zap"
)

// The functions below apply one mutation to a job, which must be a private
// clone of the stored snapshot. now is used for every timestamp set.

// ApplyStepUpdate applies upd to the step it names.
func ApplyStepUpdate(job *model.Job, graph *model.Graph, upd *model.StepUpdate, now time.Time) error {
	batch, step, ok := job.FindStep(upd.BatchID, upd.StepID)
	if !ok {
		return errors.ErrStepNotFound.GenWithStackByArgs(upd.StepID, upd.BatchID, job.ID)
	}

	newState, newOutcome := upd.State, upd.Outcome
	refreshBatches, refreshDeps := false, false

	if upd.AbortRequested != nil && !step.AbortRequested {
		step.AbortRequested = *upd.AbortRequested
		// nothing runs the step yet, so it can be aborted right away
		if step.State.IsPending() && step.State != model.StepStateRunning {
			newState = model.StepStateAborted
			newOutcome = model.StepOutcomeFailure
		}
		refreshDeps = true
	}
	if upd.AbortedBy != "" && step.AbortedBy == "" {
		step.AbortedBy = upd.AbortedBy
		refreshDeps = true
	}
	if upd.CancellationReason != "" {
		step.CancellationReason = upd.CancellationReason
		refreshDeps = true
	}
	if newState != model.StepStateUnspecified && newState != step.State {
		if batch.State == model.BatchStateStarting {
			batch.State = model.BatchStateRunning
		}
		step.State = newState
		switch newState {
		case model.StepStateRunning:
			step.StartTime = timePtr(now)
		case model.StepStateCompleted, model.StepStateAborted:
			step.FinishTime = timePtr(now)
		}
		refreshDeps = true
	}
	if newOutcome != model.StepOutcomeUnspecified && newOutcome != step.Outcome {
		step.Outcome = newOutcome
		refreshDeps = true
	}
	if upd.Error != nil {
		step.Error = *upd.Error
	}
	if upd.LogID != "" && upd.LogID != step.LogID {
		step.LogID = upd.LogID
		refreshDeps = true
	}
	if upd.RetryBy != "" && step.RetriedBy == "" {
		RetryNodes(job, graph, model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}, upd.RetryBy)
		refreshBatches = true
	}
	if upd.Priority != nil && (step.Priority == nil || *step.Priority != *upd.Priority) {
		p := *upd.Priority
		step.Priority = &p
		refreshBatches = true
	}

	if refreshBatches {
		if err := UpdateBatches(job, graph); err != nil {
			return err
		}
	}
	if refreshDeps {
		RefreshDependents(job, graph)
		RefreshJobPriority(job)
	}
	return nil
}

// ApplyBatchUpdate applies upd to the batch it names. A new error decides the
// fate of the steps the batch did not finish: retryable ones are scheduled
// again, the others are skipped.
func ApplyBatchUpdate(job *model.Job, graph *model.Graph, upd *model.BatchUpdate, now time.Time) error {
	_, batch, ok := job.FindBatch(upd.BatchID)
	if !ok {
		return errors.ErrBatchNotFound.GenWithStackByArgs(upd.BatchID, job.ID)
	}

	if upd.LogID != "" {
		batch.LogID = upd.LogID
	}
	if upd.State != nil {
		batch.State = *upd.State
		if batch.StartTime == nil && batch.State >= model.BatchStateStarting {
			batch.StartTime = timePtr(now)
		}
		if batch.State == model.BatchStateComplete {
			batch.FinishTime = timePtr(now)
		}
	}
	if upd.Error == nil || *upd.Error == batch.Error {
		return nil
	}

	batch.Error = *upd.Error
	allowRetry := !batch.Error.IsFatal()
	for _, step := range batch.Steps {
		ref := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
		switch step.State {
		case model.StepStateRunning:
			step.State = model.StepStateCompleted
			step.Outcome = model.StepOutcomeFailure
			step.Error = model.StepErrorIncomplete
			if allowRetry && CanRetryNode(job, ref) {
				step.Retry = true
				job.RetriedNodes = append(job.RetriedNodes, ref)
			}
		case model.StepStateReady, model.StepStateWaiting:
			if allowRetry && CanRetryNode(job, ref) {
				job.RetriedNodes = append(job.RetriedNodes, ref)
			} else {
				step.State = model.StepStateSkipped
			}
		}
	}
	logutil.NewLogger4Batch(job.ID, string(batch.ID)).Info("batch failed",
		zap.Stringer("error", batch.Error), zap.Bool("allow-retry", allowRetry))
	return UpdateBatches(job, graph)
}

// AssignLease binds the batch to an agent lease.
func AssignLease(job *model.Job, lease *model.LeaseAssignment) error {
	if lease.BatchIdx < 0 || lease.BatchIdx >= len(job.Batches) {
		return errors.ErrBatchNotFound.GenWithStackByArgs(batchIndexName(lease.BatchIdx), job.ID)
	}
	batch := job.Batches[lease.BatchIdx]
	if batch.SessionID != "" {
		logutil.NewLogger4Batch(job.ID, string(batch.ID)).Error("attempt to replace the session of a batch",
			zap.String("current-session", batch.SessionID),
			zap.String("new-session", lease.SessionID))
		return errors.ErrBatchSessionAssigned.GenWithStackByArgs(batch.ID, job.ID, batch.SessionID)
	}
	batch.PoolID = lease.PoolID
	batch.AgentID = lease.AgentID
	batch.SessionID = lease.SessionID
	batch.LeaseID = lease.LeaseID
	batch.LogID = lease.LogID
	return nil
}

// CancelLease detaches the batch from its lease.
func CancelLease(job *model.Job, batchIdx int) error {
	if batchIdx < 0 || batchIdx >= len(job.Batches) {
		return errors.ErrBatchNotFound.GenWithStackByArgs(batchIndexName(batchIdx), job.ID)
	}
	batch := job.Batches[batchIdx]
	logutil.NewLogger4Batch(job.ID, string(batch.ID)).Info("cancelling lease",
		zap.String("lease", batch.LeaseID), zap.String("agent", batch.AgentID))
	batch.AgentID = ""
	batch.SessionID = ""
	batch.LeaseID = ""
	return nil
}

// ApplyJobUpdate applies a job level change. Aborting the job, or changing
// its targets, recomputes the batches.
func ApplyJobUpdate(job *model.Job, graph *model.Graph, upd *model.JobUpdate) error {
	updateBatches := false
	if upd.Name != nil {
		job.Name = *upd.Name
	}
	if upd.Priority != nil && *upd.Priority != job.Priority {
		job.Priority = *upd.Priority
		// batch schedule priorities are derived from the job priority
		updateBatches = true
	}
	if upd.AutoSubmit != nil {
		job.AutoSubmit = *upd.AutoSubmit
	}
	if upd.AbortedBy != "" && job.AbortedBy == "" {
		job.AbortedBy = upd.AbortedBy
		updateBatches = true
	}
	if upd.CancellationReason != "" {
		job.CancellationReason = upd.CancellationReason
	}
	if upd.Arguments != nil {
		if targetsChanged(job.Arguments, upd.Arguments) {
			updateBatches = true
		}
		job.Arguments = append([]string(nil), upd.Arguments...)
	}
	if updateBatches {
		return UpdateBatches(job, graph)
	}
	return nil
}

// targetsChanged returns true if an argument naming targets was added or
// removed.
func targetsChanged(oldArgs, newArgs []string) bool {
	oldSet := make(map[string]struct{}, len(oldArgs))
	for _, arg := range oldArgs {
		oldSet[arg] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newArgs))
	for _, arg := range newArgs {
		newSet[arg] = struct{}{}
		if _, ok := oldSet[arg]; !ok && hasTargetPrefix(arg) {
			return true
		}
	}
	for arg := range oldSet {
		if _, ok := newSet[arg]; !ok && hasTargetPrefix(arg) {
			return true
		}
	}
	return false
}

// FailBatch completes the batch with the given error. Running steps are
// aborted and ready ones skipped.
func FailBatch(job *model.Job, graph *model.Graph, batchIdx int, batchErr model.BatchError, now time.Time) error {
	if batchIdx < 0 || batchIdx >= len(job.Batches) {
		return errors.ErrBatchNotFound.GenWithStackByArgs(batchIndexName(batchIdx), job.ID)
	}
	batch := job.Batches[batchIdx]
	logutil.NewLogger4Batch(job.ID, string(batch.ID)).Info("failing batch", zap.Stringer("error", batchErr))

	if batch.State != model.BatchStateComplete {
		batch.State = model.BatchStateComplete
		batch.Error = batchErr
		batch.FinishTime = timePtr(now)
	}
	for _, step := range batch.Steps {
		switch step.State {
		case model.StepStateRunning:
			step.State = model.StepStateAborted
			step.Outcome = model.StepOutcomeFailure
			step.FinishTime = timePtr(now)
		case model.StepStateReady:
			step.State = model.StepStateSkipped
			step.Outcome = model.StepOutcomeFailure
		}
	}
	RefreshDependents(job, graph)
	RefreshJobPriority(job)
	return nil
}

// SkipBatch completes the batch and skips all of its steps. An unknown batch
// is ignored.
func SkipBatch(job *model.Job, graph *model.Graph, batchID model.BatchID, reason model.BatchError, now time.Time) error {
	_, batch, ok := job.FindBatch(batchID)
	if !ok {
		return nil
	}
	logutil.NewLogger4Batch(job.ID, string(batch.ID)).Info("skipping batch", zap.Stringer("reason", reason))

	batch.State = model.BatchStateComplete
	batch.Error = reason
	batch.FinishTime = timePtr(now)
	for _, step := range batch.Steps {
		if step.State != model.StepStateSkipped {
			step.State = model.StepStateSkipped
			step.Outcome = model.StepOutcomeFailure
		}
	}
	return UpdateBatches(job, graph)
}

// SkipAllBatches completes every batch which has not started yet.
func SkipAllBatches(job *model.Job, graph *model.Graph, reason model.BatchError, now time.Time) error {
	logger := logutil.NewLogger4Job(job.ID)
	for _, batch := range job.Batches {
		if batch.State != model.BatchStateReady && batch.State != model.BatchStateWaiting {
			continue
		}
		logger.Info("skipping all batches", zap.String("batch", string(batch.ID)))
		batch.State = model.BatchStateComplete
		batch.Error = reason
		batch.FinishTime = timePtr(now)
		for _, step := range batch.Steps {
			if step.State == model.StepStateReady || step.State == model.StepStateWaiting {
				step.State = model.StepStateCompleted
				step.Outcome = model.StepOutcomeFailure
			}
		}
	}
	return UpdateBatches(job, graph)
}

// RemoveFromDispatchQueue makes the job invisible to the dispatch queue until
// its priority is refreshed again.
func RemoveFromDispatchQueue(job *model.Job) {
	job.SchedulePriority = 0
}

// NewJobRequest holds the parameters of a new job.
type NewJobRequest struct {
	ID           string
	Name         string
	Arguments    []string
	Priority     model.Priority
	AutoSubmit   bool
	UpdateIssues bool
}

// NewJob creates a job for the graph and runs its first reconciliation.
func NewJob(req *NewJobRequest, graph *model.Graph, now time.Time) (*model.Job, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("job id is empty")
	}
	job := &model.Job{
		ID:           req.ID,
		Name:         req.Name,
		GraphHash:    graph.Hash,
		Arguments:    append([]string(nil), req.Arguments...),
		Priority:     req.Priority,
		AutoSubmit:   req.AutoSubmit,
		UpdateIssues: req.UpdateIssues,
		CreateTime:   now,
		UpdateTime:   now,
	}
	if err := UpdateBatches(job, graph); err != nil {
		return nil, err
	}
	return job, nil
}

func batchIndexName(idx int) string {
	return fmt.Sprintf("#%d", idx)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
