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
)

// MaxRetries is the number of times a node may be retried beyond its
// original execution.
const MaxRetries = 2

// nodePriorities returns the priority of every node of the graph, with the
// per step overrides of the job applied.
func nodePriorities(job *model.Job, graph *model.Graph) [][]model.Priority {
	priorities := make([][]model.Priority, len(graph.Groups))
	for groupIdx, group := range graph.Groups {
		priorities[groupIdx] = make([]model.Priority, len(group.Nodes))
		for nodeIdx, node := range group.Nodes {
			priorities[groupIdx][nodeIdx] = node.Priority
		}
	}
	for _, batch := range job.Batches {
		for _, step := range batch.Steps {
			if step.Priority != nil {
				priorities[batch.GroupIdx][step.NodeIdx] = *step.Priority
			}
		}
	}
	return priorities
}

// propagatePriorities promotes every order dependency to at least the
// priority of its dependent, so dependencies never starve the nodes waiting
// on them. Dependencies point backward, a single reverse pass is a fixpoint.
func propagatePriorities(graph *model.Graph, priorities [][]model.Priority) {
	for groupIdx := len(graph.Groups) - 1; groupIdx >= 0; groupIdx-- {
		group := graph.Groups[groupIdx]
		for nodeIdx := len(group.Nodes) - 1; nodeIdx >= 0; nodeIdx-- {
			p := priorities[groupIdx][nodeIdx]
			for _, dep := range group.Nodes[nodeIdx].OrderDependencies {
				if priorities[dep.GroupIdx][dep.NodeIdx] < p {
					priorities[dep.GroupIdx][dep.NodeIdx] = p
				}
			}
		}
	}
}

func batchPriority(batch *model.Batch, priorities [][]model.Priority) model.Priority {
	highest := model.PriorityLowest
	for _, step := range batch.Steps {
		if p := priorities[batch.GroupIdx][step.NodeIdx]; p > highest {
			highest = p
		}
	}
	return highest
}

// SchedulePriority combines the job and the node priority of a batch.
// Zero is reserved for "not schedulable".
func SchedulePriority(jobPriority model.Priority, nodePriority model.Priority) int {
	return int(jobPriority)*10 + int(nodePriority) + 1
}

// JobSchedulePriority returns the highest schedule priority of the Ready
// batches of the job, zero if none is ready.
func JobSchedulePriority(job *model.Job) int {
	priority := 0
	for _, batch := range job.Batches {
		if batch.State == model.BatchStateReady && batch.SchedulePriority > priority {
			priority = batch.SchedulePriority
		}
	}
	return priority
}

// RefreshJobPriority updates the schedule priority of the job.
func RefreshJobPriority(job *model.Job) {
	job.SchedulePriority = JobSchedulePriority(job)
}

// CanRetryNode returns true if the node has not used up its retries.
func CanRetryNode(job *model.Job, ref model.NodeRef) bool {
	count := 0
	for _, retried := range job.RetriedNodes {
		if retried == ref {
			count++
		}
	}
	return count < MaxRetries
}

// RetryNodes flags the step of the node for retry. If the step was skipped
// because of a failed dependency, the request is forwarded to the inputs
// which caused the skip, unless their batch failed fatally.
func RetryNodes(job *model.Job, graph *model.Graph, ref model.NodeRef, retryBy string) {
	pending := nodeSet{ref: struct{}{}}
	for batchIdx := len(job.Batches) - 1; batchIdx >= 0; batchIdx-- {
		batch := job.Batches[batchIdx]
		for stepIdx := len(batch.Steps) - 1; stepIdx >= 0; stepIdx-- {
			step := batch.Steps[stepIdx]
			stepRef := model.NodeRef{GroupIdx: batch.GroupIdx, NodeIdx: step.NodeIdx}
			if !pending.has(stepRef) {
				continue
			}
			pending.remove(stepRef)
			if step.State == model.StepStateSkipped && batch.Error == model.BatchErrorNone {
				for _, dep := range graph.GetNode(stepRef).InputDependencies {
					pending.add(dep)
				}
				continue
			}
			step.Retry = true
			step.RetriedBy = retryBy
		}
	}
}
