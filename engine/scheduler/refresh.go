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
	"time"

	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/logutil"
	"go.uber.org/zap"
)

// RefreshDependents recomputes the state which is derived from other steps:
// waiting steps become ready or skipped, and waiting or ready batches become
// ready, waiting or complete. It is a pure function of the snapshot and may
// be run any number of times.
func RefreshDependents(job *model.Job, graph *model.Graph) {
	logger := logutil.NewLogger4Job(job.ID)
	stepForNode := make(map[model.NodeRef]*model.Step)
	for _, batch := range job.Batches {
		for _, step := range batch.Steps {
			ref := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
			if step.State == model.StepStateWaiting {
				refreshWaitingStep(logger, batch, step, graph.GetNode(ref), stepForNode)
			}
			stepForNode[ref] = step
		}

		if batch.State != model.BatchStateWaiting && batch.State != model.BatchStateReady {
			continue
		}
		newState, readyTime := batchState(job, graph, batch, stepForNode)
		if newState != batch.State {
			logger.Info("transitioning batch",
				zap.String("batch", string(batch.ID)),
				zap.Stringer("from", batch.State),
				zap.Stringer("to", newState))
			batch.State = newState
		}
		if !timeEqual(batch.ReadyTime, readyTime) {
			logger.Debug("setting batch ready time",
				zap.String("batch", string(batch.ID)), zap.Timep("ready-time", readyTime))
			batch.ReadyTime = readyTime
		}
	}
}

func refreshWaitingStep(
	logger *zap.Logger,
	batch *model.Batch,
	step *model.Step,
	node *model.Node,
	stepForNode map[model.NodeRef]*model.Step,
) {
	var deps []*model.Step
	for _, ref := range node.OrderDependencies {
		if dep, ok := stepForNode[ref]; ok {
			deps = append(deps, dep)
		}
	}

	failed, pending := false, false
	for _, dep := range deps {
		if dep.AbortRequested || dep.State == model.StepStateSkipped || dep.Outcome == model.StepOutcomeFailure {
			failed = true
		}
		if !dep.AbortRequested && dep.State.IsPending() {
			pending = true
		}
	}
	switch {
	case failed:
		logger.Debug("skipping step, a dependency failed",
			zap.String("batch", string(batch.ID)), zap.String("step", string(step.ID)))
		step.State = model.StepStateSkipped
		step.Outcome = model.StepOutcomeFailure
	case !pending:
		depIDs := make([]string, 0, len(deps))
		for _, dep := range deps {
			depIDs = append(depIDs, string(dep.ID))
		}
		logger.Info("transitioning step to ready state",
			zap.String("batch", string(batch.ID)),
			zap.String("step", string(step.ID)),
			zap.Strings("dependencies", depIDs))
		step.State = model.StepStateReady
	}
}

// batchState returns the state a waiting or ready batch should be in, and
// the time it became ready.
func batchState(
	job *model.Job,
	graph *model.Graph,
	batch *model.Batch,
	stepForNode map[model.NodeRef]*model.Step,
) (model.BatchState, *time.Time) {
	allTerminal := true
	for _, step := range batch.Steps {
		if !step.State.IsTerminal() {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		return model.BatchStateComplete, batch.ReadyTime
	}

	readyTime := job.CreateTime
	for _, ref := range startDependencies(graph, batch) {
		dep, ok := stepForNode[ref]
		if !ok {
			continue
		}
		if !dep.State.IsTerminal() {
			return model.BatchStateWaiting, nil
		}
		if dep.FinishTime != nil && dep.FinishTime.After(readyTime) {
			readyTime = *dep.FinishTime
		}
	}
	return model.BatchStateReady, &readyTime
}

// startDependencies returns the nodes outside of the batch which must finish
// before the batch can start. If the batch contains RunEarly nodes, only
// their inputs count, the rest of the batch waits on the agent.
func startDependencies(graph *model.Graph, batch *model.Batch) []model.NodeRef {
	own := make(nodeSet, len(batch.Steps))
	var nodes []*model.Node
	var early []*model.Node
	for _, step := range batch.Steps {
		ref := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
		own.add(ref)
		node := graph.GetNode(ref)
		nodes = append(nodes, node)
		if node.RunEarly {
			early = append(early, node)
		}
	}
	if len(early) > 0 {
		nodes = early
	}
	deps := make(nodeSet)
	for _, node := range nodes {
		for _, dep := range node.InputDependencies {
			if !own.has(dep) {
				deps.add(dep)
			}
		}
	}
	return deps.sorted()
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
