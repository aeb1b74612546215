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
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/logutil"
	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/zap"
)

// UpdateBatches recomputes the batches and steps of the job against the
// graph, then refreshes the readiness of every batch and the schedule
// priority of the job. The job is left in an undefined state if an error is
// returned, callers are expected to operate on a clone.
func UpdateBatches(job *model.Job, graph *model.Graph) error {
	if err := Reconcile(job, graph); err != nil {
		return err
	}
	RefreshDependents(job, graph)
	RefreshJobPriority(job)
	return nil
}

// reconciler holds the transient state of one reconciliation pass.
type reconciler struct {
	job    *model.Job
	graph  *model.Graph
	logger *zap.Logger

	// removed steps and batch ids, handed back if the same node or group
	// is scheduled again within this pass
	recycleSteps    map[model.NodeRef]recycledStep
	recycleBatchIDs map[int]model.BatchID
}

// recycledStep keeps what a recreated step inherits from the removed one.
type recycledStep struct {
	id       model.StepID
	priority *model.Priority
}

// Reconcile diffs the existing batches of the job against the set of nodes
// which currently have to run, keeping the work which already executed and
// reusing ids of steps and batches which are recreated.
//
// The passes run in a fixed order, so that two callers reconciling the same
// snapshot produce identical results:
//
//	prune unstarted steps -> skip steps of failed batches -> drop obsolete skips
//	-> drop empty batches -> resolve targets -> cancel unneeded batches
//	-> create steps -> assign schedule priorities -> check retries
func Reconcile(job *model.Job, graph *model.Graph) error {
	r := &reconciler{
		job:             job,
		graph:           graph,
		logger:          logutil.NewLogger4Job(job.ID),
		recycleSteps:    make(map[model.NodeRef]recycledStep),
		recycleBatchIDs: make(map[int]model.BatchID),
	}
	return r.run()
}

func (r *reconciler) run() error {
	r.logger.Debug("reconcile batches begin", zap.String("graph", r.graph.Hash))

	priorities := nodePriorities(r.job, r.graph)

	for _, batch := range r.job.Batches {
		r.removeSteps(batch, func(step *model.Step) bool {
			return step.State == model.StepStateWaiting || step.State == model.StepStateReady
		})
	}
	r.skipStepsOfFailedBatches()
	r.removeObsoleteSkips()
	r.removeBatches(func(batch *model.Batch) bool {
		return len(batch.Steps) == 0 && batch.LeaseID == "" && batch.Error == model.BatchErrorNone
	})
	if len(r.recycleBatchIDs) > 0 {
		r.logger.Debug("recycled removed batch ids", zap.Any("batches", r.recycleBatchIDs))
	}

	required := resolveTargets(r.job, r.graph)
	r.cancelUnneededBatches(required)
	r.removeExecutedNodes(required)
	r.addSameGroupInputs(required)
	r.createSteps(required)

	propagatePriorities(r.graph, priorities)
	for _, batch := range r.job.Batches {
		if len(batch.Steps) == 0 {
			continue
		}
		batch.SchedulePriority = SchedulePriority(r.job.Priority, batchPriority(batch, priorities))
	}

	if err := checkExecutionCounts(r.job, r.graph); err != nil {
		return err
	}
	r.logger.Debug("reconcile batches end")
	return nil
}

// removeSteps removes the matching steps from the batch and saves their ids.
func (r *reconciler) removeSteps(batch *model.Batch, pred func(*model.Step) bool) {
	for idx := len(batch.Steps) - 1; idx >= 0; idx-- {
		step := batch.Steps[idx]
		if !pred(step) {
			continue
		}
		r.recycleSteps[model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}] = recycledStep{
			id:       step.ID,
			priority: step.Priority,
		}
		batch.Steps = append(batch.Steps[:idx], batch.Steps[idx+1:]...)
	}
}

// removeBatches removes the matching batches from the job and saves their ids.
func (r *reconciler) removeBatches(pred func(*model.Batch) bool) {
	for idx := len(r.job.Batches) - 1; idx >= 0; idx-- {
		batch := r.job.Batches[idx]
		if !pred(batch) {
			continue
		}
		r.recycleBatchIDs[batch.GroupIdx] = batch.ID
		r.job.Batches = append(r.job.Batches[:idx], r.job.Batches[idx+1:]...)
	}
}

// skipStepsOfFailedBatches marks the pending steps of batches which will
// never run them as skipped.
func (r *reconciler) skipStepsOfFailedBatches() {
	for _, batch := range r.job.Batches {
		if batch.State != model.BatchStateComplete || batch.Error == model.BatchErrorIncomplete {
			continue
		}
		for _, step := range batch.Steps {
			if step.State.IsPending() {
				step.State = model.StepStateSkipped
				r.logger.Debug("skip step of failed batch",
					zap.String("batch", string(batch.ID)), zap.String("step", string(step.ID)))
			}
		}
	}
}

// removeObsoleteSkips removes skipped steps whose cause has gone away, for
// example because the failed dependency is being retried.
func (r *reconciler) removeObsoleteSkips() {
	failed := make(map[model.NodeRef]struct{})
	for _, batch := range r.job.Batches {
		for _, step := range batch.Steps {
			ref := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
			node := r.graph.GetNode(ref)
			switch {
			case step.Retry:
				delete(failed, ref)
			case batch.State == model.BatchStateComplete && batch.Error.IsFatal():
				failed[ref] = struct{}{}
			case step.State == model.StepStateSkipped:
				if anyRef(node.InputDependencies, failed) || !CanRetryNode(r.job, ref) {
					failed[ref] = struct{}{}
				} else {
					delete(failed, ref)
				}
			case step.Outcome == model.StepOutcomeFailure:
				failed[ref] = struct{}{}
			default:
				delete(failed, ref)
			}
		}
		r.removeSteps(batch, func(step *model.Step) bool {
			if step.State != model.StepStateSkipped {
				return false
			}
			_, ok := failed[model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}]
			return !ok
		})
	}
}

// cancelUnneededBatches flags the batches which are executing but none of
// whose nodes are required any more. The lease holder is told to stop.
func (r *reconciler) cancelUnneededBatches(required nodeSet) {
	for _, batch := range r.job.Batches {
		if batch.State != model.BatchStateStarting && batch.State != model.BatchStateRunning {
			continue
		}
		// A starting batch which has not executed anything can still be appended to.
		if batch.State == model.BatchStateStarting && len(batch.Steps) == 0 {
			continue
		}
		needed := false
		for _, step := range batch.Steps {
			if required.has(model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}) {
				needed = true
				break
			}
		}
		if needed || batch.Error == model.BatchErrorNoLongerNeeded {
			continue
		}
		r.logger.Info("batch is no longer needed, cancelling it",
			zap.String("batch", string(batch.ID)),
			zap.String("lease", batch.LeaseID),
			zap.Int("steps", len(batch.Steps)))
		batch.Error = model.BatchErrorNoLongerNeeded
	}
}

// removeExecutedNodes drops the nodes which already ran, or were skipped,
// from the required set.
func (r *reconciler) removeExecutedNodes(required nodeSet) {
	for _, batch := range r.job.Batches {
		for _, step := range batch.Steps {
			executed := !step.Retry && (step.State == model.StepStateRunning ||
				step.State == model.StepStateCompleted || step.State == model.StepStateAborted)
			if executed || step.State == model.StepStateSkipped {
				required.remove(model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx})
			}
		}
	}
}

// addSameGroupInputs re-adds the inputs of required nodes which live in the
// same group. Nodes of one group share a workspace, so such an input has to
// be produced again by the batch consuming it.
func (r *reconciler) addSameGroupInputs(required nodeSet) {
	for groupIdx := len(r.graph.Groups) - 1; groupIdx >= 0; groupIdx-- {
		group := r.graph.Groups[groupIdx]
		for nodeIdx := len(group.Nodes) - 1; nodeIdx >= 0; nodeIdx-- {
			if !required.has(model.NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}) {
				continue
			}
			for _, dep := range group.Nodes[nodeIdx].InputDependencies {
				if dep.GroupIdx == groupIdx {
					required.add(dep)
				}
			}
		}
	}
}

// appendTargets picks, for every group, the batch new steps may be appended
// to. A batch can not step backward: if a required node it has not executed
// sits at or before its last step, a new batch is opened instead.
func (r *reconciler) appendTargets(required nodeSet) []*model.Batch {
	targets := make([]*model.Batch, len(r.graph.Groups))
	for _, batch := range r.job.Batches {
		if batch.State <= model.BatchStateRunning {
			targets[batch.GroupIdx] = batch
		}
	}
	for groupIdx, batch := range targets {
		last := batchLastStep(batch)
		if last == nil {
			continue
		}
		executed := make(map[int]struct{}, len(batch.Steps))
		for _, step := range batch.Steps {
			if !step.Retry {
				executed[step.NodeIdx] = struct{}{}
			}
		}
		for nodeIdx := 0; nodeIdx <= last.NodeIdx; nodeIdx++ {
			if _, ok := executed[nodeIdx]; ok {
				continue
			}
			if required.has(model.NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}) {
				targets[groupIdx] = nil
				break
			}
		}
	}
	return targets
}

// createSteps creates a step for every required node which is not already
// scheduled, in group and node order.
func (r *reconciler) createSteps(required nodeSet) {
	existing := make(nodeSet)
	for _, batch := range r.job.Batches {
		for _, step := range batch.Steps {
			if !step.Retry {
				existing.add(model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx})
			}
		}
	}
	if len(existing) > 0 {
		r.logger.Debug("existing nodes to execute", zap.Strings("nodes", existing.names(r.graph)))
	}
	if len(required) > 0 {
		r.logger.Debug("new nodes to execute", zap.Strings("nodes", required.names(r.graph)))
	}

	targets := r.appendTargets(required)
	for groupIdx, group := range r.graph.Groups {
		for nodeIdx, node := range group.Nodes {
			ref := model.NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}
			if !required.has(ref) {
				continue
			}
			batch := targets[groupIdx]
			if batch == nil {
				batchID, ok := r.recycleBatchIDs[groupIdx]
				if ok {
					delete(r.recycleBatchIDs, groupIdx)
				} else {
					batchID = model.BatchID(r.nextID().String())
				}
				batch = model.NewBatch(batchID, groupIdx)
				r.job.Batches = append(r.job.Batches, batch)
				targets[groupIdx] = batch
				r.logger.Debug("created new batch",
					zap.String("batch", string(batchID)), zap.String("node", node.Name))
			}

			// Nodes which already executed in this batch are not added again.
			if last := batchLastStep(batch); last != nil && nodeIdx <= last.NodeIdx {
				continue
			}
			var step *model.Step
			if recycled, ok := r.recycleSteps[ref]; ok {
				delete(r.recycleSteps, ref)
				step = model.NewStep(recycled.id, nodeIdx)
				step.Priority = recycled.priority
			} else {
				step = model.NewStep(model.StepID(r.nextID().String()), nodeIdx)
			}
			batch.Steps = append(batch.Steps, step)
			r.logger.Debug("created step",
				zap.String("batch", string(batch.ID)),
				zap.String("step", string(step.ID)),
				zap.String("node", node.Name))
		}
	}
}

func (r *reconciler) nextID() model.SubResourceID {
	r.job.NextSubResourceID = r.job.NextSubResourceID.Next()
	return r.job.NextSubResourceID
}

// checkExecutionCounts fails if a node which does not allow retries is
// scheduled more than once.
func checkExecutionCounts(job *model.Job, graph *model.Graph) error {
	counts := make(map[model.NodeRef]int)
	for _, batch := range job.Batches {
		for _, step := range batch.Steps {
			ref := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
			node := graph.GetNode(ref)
			if !node.AllowRetry && counts[ref] > 0 {
				return errors.ErrRetryNotAllowed.GenWithStackByArgs(node.Name)
			}
			counts[ref]++
		}
	}
	return nil
}

func batchLastStep(batch *model.Batch) *model.Step {
	if batch == nil {
		return nil
	}
	return batch.LastStep()
}

func anyRef(refs []model.NodeRef, set map[model.NodeRef]struct{}) bool {
	for _, ref := range refs {
		if _, ok := set[ref]; ok {
			return true
		}
	}
	return false
}
