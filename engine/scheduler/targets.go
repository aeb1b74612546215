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
	"sort"
	"strings"

	"github.com/pingcap/buildflow/engine/model"
)

type nodeSet map[model.NodeRef]struct{}

func (s nodeSet) add(ref model.NodeRef) { s[ref] = struct{}{} }

func (s nodeSet) remove(ref model.NodeRef) { delete(s, ref) }

func (s nodeSet) has(ref model.NodeRef) bool {
	_, ok := s[ref]
	return ok
}

// sorted returns the refs in group/node order.
func (s nodeSet) sorted() []model.NodeRef {
	refs := make([]model.NodeRef, 0, len(s))
	for ref := range s {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Before(refs[j]) })
	return refs
}

func (s nodeSet) names(graph *model.Graph) []string {
	refs := s.sorted()
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, graph.GetNode(ref).Name)
	}
	return names
}

// Targets returns the target names requested by the job arguments, lower
// cased. The setup node is always a target, and an aborted job has none.
func Targets(job *model.Job) map[string]struct{} {
	targets := make(map[string]struct{})
	if job.IsAborted() {
		return targets
	}
	for _, arg := range job.Arguments {
		if !hasTargetPrefix(arg) {
			continue
		}
		for _, name := range strings.Split(arg[len(model.TargetArgumentPrefix):], ";") {
			targets[strings.ToLower(name)] = struct{}{}
		}
	}
	targets[strings.ToLower(model.SetupNodeName)] = struct{}{}
	return targets
}

func hasTargetPrefix(arg string) bool {
	prefix := model.TargetArgumentPrefix
	return len(arg) >= len(prefix) && strings.EqualFold(arg[:len(prefix)], prefix)
}

// resolveTargets returns the nodes named by the job targets, directly or
// through an aggregate, together with their input dependency closure.
func resolveTargets(job *model.Job, graph *model.Graph) nodeSet {
	targets := Targets(job)
	required := make(nodeSet)
	for _, agg := range graph.Aggregates {
		if _, ok := targets[strings.ToLower(agg.Name)]; ok {
			for _, ref := range agg.Nodes {
				required.add(ref)
			}
		}
	}
	for groupIdx, group := range graph.Groups {
		for nodeIdx, node := range group.Nodes {
			if _, ok := targets[strings.ToLower(node.Name)]; ok {
				required.add(model.NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx})
			}
		}
	}

	// dependencies always point backward, so one reverse pass reaches the closure
	for groupIdx := len(graph.Groups) - 1; groupIdx >= 0; groupIdx-- {
		group := graph.Groups[groupIdx]
		for nodeIdx := len(group.Nodes) - 1; nodeIdx >= 0; nodeIdx-- {
			if !required.has(model.NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}) {
				continue
			}
			for _, dep := range group.Nodes[nodeIdx].InputDependencies {
				required.add(dep)
			}
		}
	}
	return required
}
