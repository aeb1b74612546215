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
	"strings"

	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/logutil"
	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/zap"
)

// MigrateGraph moves the job from oldGraph to newGraph. Steps are remapped
// by node name, all nodes of an old group must live in one new group, and a
// step which has already left the pending states must have an equivalent
// node in the new graph. The batches are then recomputed against newGraph.
func MigrateGraph(job *model.Job, oldGraph, newGraph *model.Graph) error {
	for _, batch := range job.Batches {
		oldGroup := oldGraph.Groups[batch.GroupIdx]
		newGroupIdx := -1
		newNodeIdxs := make([]int, len(oldGroup.Nodes))
		for oldNodeIdx, oldNode := range oldGroup.Nodes {
			ref, ok := newGraph.TryFindNode(oldNode.Name)
			if !ok {
				return errors.ErrNodeNotFoundInGraph.GenWithStackByArgs(oldNode.Name, oldGraph.Hash, newGraph.Hash)
			}
			if newGroupIdx == -1 {
				newGroupIdx = ref.GroupIdx
			} else if newGroupIdx != ref.GroupIdx {
				return errors.ErrNodeGroupChanged.GenWithStackByArgs(oldNode.Name, oldGraph.Hash, newGraph.Hash)
			}
			newNodeIdxs[oldNodeIdx] = ref.NodeIdx
		}
		if newGroupIdx == -1 {
			return errors.ErrEmptyGroup.GenWithStackByArgs(batch.GroupIdx, oldGraph.Hash)
		}

		oldGroupIdx := batch.GroupIdx
		batch.GroupIdx = newGroupIdx
		for _, step := range batch.Steps {
			oldNode := oldGroup.Nodes[step.NodeIdx]
			newRef := model.NodeRef{GroupIdx: newGroupIdx, NodeIdx: newNodeIdxs[step.NodeIdx]}
			if !step.State.IsPending() && !NodesMatch(oldGraph, oldNode, newGraph, newGraph.GetNode(newRef)) {
				return errors.ErrNodeDefinitionChanged.GenWithStackByArgs(oldNode.Name)
			}
			step.NodeIdx = newRef.NodeIdx
		}
		logutil.NewLogger4Job(job.ID).Debug("remapped batch",
			zap.String("batch", string(batch.ID)),
			zap.Int("old-group", oldGroupIdx),
			zap.Int("new-group", newGroupIdx))
	}

	// retry budgets follow their nodes, entries of removed nodes are dropped
	retried := job.RetriedNodes[:0:0]
	for _, ref := range job.RetriedNodes {
		if !oldGraph.HasNode(ref) {
			continue
		}
		if newRef, ok := newGraph.TryFindNode(oldGraph.GetNode(ref).Name); ok {
			retried = append(retried, newRef)
		}
	}
	if len(retried) == 0 {
		retried = nil
	}
	job.RetriedNodes = retried

	job.GraphHash = newGraph.Hash
	return UpdateBatches(job, newGraph)
}

// NodesMatch returns true if the two nodes consume and produce the same
// named data, compared as case-insensitive sets.
func NodesMatch(oldGraph *model.Graph, oldNode *model.Node, newGraph *model.Graph, newNode *model.Node) bool {
	depNames := func(g *model.Graph, refs []model.NodeRef) []string {
		names := make([]string, 0, len(refs))
		for _, ref := range refs {
			names = append(names, g.GetNode(ref).Name)
		}
		return names
	}
	inputNames := func(g *model.Graph, inputs []model.NodeOutputRef) []string {
		names := make([]string, 0, len(inputs))
		for _, input := range inputs {
			names = append(names, g.InputName(input))
		}
		return names
	}
	return sameNames(depNames(oldGraph, oldNode.InputDependencies), depNames(newGraph, newNode.InputDependencies)) &&
		sameNames(inputNames(oldGraph, oldNode.Inputs), inputNames(newGraph, newNode.Inputs)) &&
		sameNames(oldNode.OutputNames, newNode.OutputNames)
}

func sameNames(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[strings.ToLower(name)] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, name := range b {
		key := strings.ToLower(name)
		if _, ok := set[key]; !ok {
			return false
		}
		other[key] = struct{}{}
	}
	return len(set) == len(other)
}
