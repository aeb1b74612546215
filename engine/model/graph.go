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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// SetupNodeName is the node which is implicitly a target of every job.
	SetupNodeName = "Setup Build"
	// TargetArgumentPrefix is the prefix of job arguments naming targets.
	// A single argument may name several targets separated by ';'.
	TargetArgumentPrefix = "-Target="
)

// NodeRef is the structural address of a node within a graph.
type NodeRef struct {
	GroupIdx int `json:"group-idx"`
	NodeIdx  int `json:"node-idx"`
}

// String implements fmt.Stringer.
func (r NodeRef) String() string {
	return fmt.Sprintf("%d:%d", r.GroupIdx, r.NodeIdx)
}

// Before returns true if r is strictly before other in group/node order.
func (r NodeRef) Before(other NodeRef) bool {
	if r.GroupIdx != other.GroupIdx {
		return r.GroupIdx < other.GroupIdx
	}
	return r.NodeIdx < other.NodeIdx
}

// NodeOutputRef addresses one of the named outputs of a node.
type NodeOutputRef struct {
	NodeRef   NodeRef `json:"node"`
	OutputIdx int     `json:"output-idx"`
}

// Node is one unit of work in a graph.
type Node struct {
	Name string `json:"name"`
	// InputDependencies are the nodes producing data consumed by this node.
	InputDependencies []NodeRef `json:"input-dependencies,omitempty"`
	// OrderDependencies must finish before this node runs. NewGraph extends
	// it with every InputDependencies entry, which in turn includes the
	// producers of Inputs.
	OrderDependencies []NodeRef       `json:"order-dependencies,omitempty"`
	Inputs            []NodeOutputRef `json:"inputs,omitempty"`
	OutputNames       []string        `json:"output-names,omitempty"`
	Priority          Priority        `json:"priority"`
	AllowRetry        bool            `json:"allow-retry"`
	// RunEarly nodes may start as soon as their own inputs are available,
	// without waiting for the rest of the batch's dependencies.
	RunEarly bool `json:"run-early,omitempty"`
	Warnings bool `json:"warnings,omitempty"`
}

// NodeGroup is a list of nodes executed on the same kind of agent.
type NodeGroup struct {
	AgentType string  `json:"agent-type"`
	Nodes     []*Node `json:"nodes"`
}

// Aggregate is a named set of nodes which can be used as a target.
type Aggregate struct {
	Name  string    `json:"name"`
	Nodes []NodeRef `json:"nodes"`
}

// Graph is an immutable, content addressed set of node groups. A Graph must
// not be modified after NewGraph returns, it is shared between jobs.
type Graph struct {
	Hash       string       `json:"-"`
	Groups     []*NodeGroup `json:"groups"`
	Aggregates []*Aggregate `json:"aggregates,omitempty"`

	nameToRef map[string]NodeRef
}

// NewGraph validates the given groups and aggregates and builds a graph
// from them. Every dependency must point strictly backward in group/node order.
// The dependency lists of the nodes are completed in place, sorted and
// without duplicates, before the hash is computed.
func NewGraph(groups []*NodeGroup, aggregates []*Aggregate) (*Graph, error) {
	g := &Graph{
		Groups:     groups,
		Aggregates: aggregates,
		nameToRef:  make(map[string]NodeRef),
	}
	if err := g.validate(); err != nil {
		return nil, errors.ErrInvalidGraph.GenWithStackByArgs(err.Error())
	}
	g.completeDependencies()
	data, err := g.Encode()
	if err != nil {
		return nil, errors.Trace(err)
	}
	sum := sha256.Sum256(data)
	g.Hash = hex.EncodeToString(sum[:])
	return g, nil
}

// DecodeGraph rebuilds a graph from the output of Encode.
func DecodeGraph(data []byte) (*Graph, error) {
	var raw Graph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ErrInvalidGraph.Wrap(err).GenWithStackByArgs("malformed graph document")
	}
	return NewGraph(raw.Groups, raw.Aggregates)
}

// Encode returns the canonical encoding of the graph, which is also the
// input of its hash.
func (g *Graph) Encode() ([]byte, error) {
	return json.Marshal(g)
}

// completeDependencies makes the producer of every input an input
// dependency, and every input dependency an order dependency.
func (g *Graph) completeDependencies() {
	for _, group := range g.Groups {
		for _, node := range group.Nodes {
			inputDeps := make(map[NodeRef]struct{}, len(node.InputDependencies)+len(node.Inputs))
			for _, dep := range node.InputDependencies {
				inputDeps[dep] = struct{}{}
			}
			for _, input := range node.Inputs {
				inputDeps[input.NodeRef] = struct{}{}
			}
			orderDeps := make(map[NodeRef]struct{}, len(inputDeps)+len(node.OrderDependencies))
			for dep := range inputDeps {
				orderDeps[dep] = struct{}{}
			}
			for _, dep := range node.OrderDependencies {
				orderDeps[dep] = struct{}{}
			}
			node.InputDependencies = sortedRefs(inputDeps)
			node.OrderDependencies = sortedRefs(orderDeps)
		}
	}
}

func (g *Graph) validate() error {
	var errs error
	checkRef := func(owner string, at NodeRef, dep NodeRef) bool {
		if dep.GroupIdx < 0 || dep.GroupIdx >= len(g.Groups) || g.Groups[dep.GroupIdx] == nil ||
			dep.NodeIdx < 0 || dep.NodeIdx >= len(g.Groups[dep.GroupIdx].Nodes) {
			errs = multierr.Append(errs, fmt.Errorf("node '%s' references unknown node %s", owner, dep))
			return false
		}
		if !dep.Before(at) {
			errs = multierr.Append(errs, fmt.Errorf("node '%s' depends on %s which is not before it", owner, dep))
			return false
		}
		return true
	}

	for groupIdx, group := range g.Groups {
		if group == nil {
			errs = multierr.Append(errs, fmt.Errorf("group %d is nil", groupIdx))
			continue
		}
		for nodeIdx, node := range group.Nodes {
			at := NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}
			if node == nil || node.Name == "" {
				errs = multierr.Append(errs, fmt.Errorf("node %s has no name", at))
				continue
			}
			key := strings.ToLower(node.Name)
			if prev, ok := g.nameToRef[key]; ok {
				errs = multierr.Append(errs, fmt.Errorf("node '%s' is defined at both %s and %s", node.Name, prev, at))
			} else {
				g.nameToRef[key] = at
			}
			for _, dep := range node.InputDependencies {
				checkRef(node.Name, at, dep)
			}
			for _, dep := range node.OrderDependencies {
				checkRef(node.Name, at, dep)
			}
			for _, input := range node.Inputs {
				if !checkRef(node.Name, at, input.NodeRef) {
					continue
				}
				producer := g.Groups[input.NodeRef.GroupIdx].Nodes[input.NodeRef.NodeIdx]
				if producer != nil && (input.OutputIdx < 0 || input.OutputIdx >= len(producer.OutputNames)) {
					errs = multierr.Append(errs, fmt.Errorf("node '%s' consumes unknown output %d of '%s'",
						node.Name, input.OutputIdx, producer.Name))
				}
			}
		}
	}
	for _, agg := range g.Aggregates {
		for _, ref := range agg.Nodes {
			if ref.GroupIdx < 0 || ref.GroupIdx >= len(g.Groups) || g.Groups[ref.GroupIdx] == nil ||
				ref.NodeIdx < 0 || ref.NodeIdx >= len(g.Groups[ref.GroupIdx].Nodes) {
				errs = multierr.Append(errs, fmt.Errorf("aggregate '%s' references unknown node %s", agg.Name, ref))
			}
		}
	}
	return errs
}

// GetNode returns the node at ref. It panics if ref is out of range.
func (g *Graph) GetNode(ref NodeRef) *Node {
	return g.Groups[ref.GroupIdx].Nodes[ref.NodeIdx]
}

// TryFindNode looks up a node by name, case-insensitively.
func (g *Graph) TryFindNode(name string) (NodeRef, bool) {
	ref, ok := g.nameToRef[strings.ToLower(name)]
	return ref, ok
}

// HasNode returns true if ref is inside the graph.
func (g *Graph) HasNode(ref NodeRef) bool {
	return ref.GroupIdx >= 0 && ref.GroupIdx < len(g.Groups) &&
		ref.NodeIdx >= 0 && ref.NodeIdx < len(g.Groups[ref.GroupIdx].Nodes)
}

// NodeCount returns the total number of nodes in the graph.
func (g *Graph) NodeCount() int {
	n := 0
	for _, group := range g.Groups {
		n += len(group.Nodes)
	}
	return n
}

// InputName returns the name of the output referenced by input.
func (g *Graph) InputName(input NodeOutputRef) string {
	return g.GetNode(input.NodeRef).OutputNames[input.OutputIdx]
}
