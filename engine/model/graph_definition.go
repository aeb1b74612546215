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
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

// GraphDefinition is the name based, human written form of a graph.
//
//	groups:
//	  - agent-type: Linux
//	    nodes:
//	      - name: Setup Build
//	        outputs: ["#Setup"]
//	      - name: Compile
//	        inputs: ["#Setup"]
//	        allow-retry: true
//	aggregates:
//	  - name: All
//	    nodes: [Compile]
type GraphDefinition struct {
	Groups     []GroupDefinition     `yaml:"groups"`
	Aggregates []AggregateDefinition `yaml:"aggregates"`
}

// GroupDefinition defines a node group.
type GroupDefinition struct {
	AgentType string           `yaml:"agent-type"`
	Nodes     []NodeDefinition `yaml:"nodes"`
}

// NodeDefinition defines a node. Inputs name outputs of earlier nodes, After
// names nodes which must finish first without passing data.
type NodeDefinition struct {
	Name       string   `yaml:"name"`
	Inputs     []string `yaml:"inputs"`
	Outputs    []string `yaml:"outputs"`
	After      []string `yaml:"after"`
	Priority   string   `yaml:"priority"`
	AllowRetry *bool    `yaml:"allow-retry"`
	RunEarly   bool     `yaml:"run-early"`
	Warnings   *bool    `yaml:"warnings"`
}

// AggregateDefinition defines a named target.
type AggregateDefinition struct {
	Name  string   `yaml:"name"`
	Nodes []string `yaml:"nodes"`
}

// LoadGraphDefinition reads a yaml graph definition from path.
func LoadGraphDefinition(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseGraphDefinition(data)
}

// ParseGraphDefinition decodes a yaml graph definition. Unknown fields are
// rejected.
func ParseGraphDefinition(data []byte) (*GraphDefinition, error) {
	def := &GraphDefinition{}
	if err := yaml.UnmarshalStrict(data, def); err != nil {
		return nil, errors.ErrInvalidGraph.Wrap(err).GenWithStackByArgs("malformed graph definition")
	}
	return def, nil
}

// Compile resolves all names of the definition and builds the graph.
func (d *GraphDefinition) Compile() (*Graph, error) {
	nodeRefs := make(map[string]NodeRef)
	outputRefs := make(map[string]NodeOutputRef)
	var errs error
	for groupIdx, group := range d.Groups {
		for nodeIdx, node := range group.Nodes {
			ref := NodeRef{GroupIdx: groupIdx, NodeIdx: nodeIdx}
			nodeRefs[strings.ToLower(node.Name)] = ref
			for outputIdx, output := range node.Outputs {
				key := strings.ToLower(output)
				if prev, ok := outputRefs[key]; ok && prev.NodeRef != ref {
					errs = multierr.Append(errs, fmt.Errorf("output '%s' is produced by more than one node", output))
					continue
				}
				outputRefs[key] = NodeOutputRef{NodeRef: ref, OutputIdx: outputIdx}
			}
		}
	}

	groups := make([]*NodeGroup, 0, len(d.Groups))
	for _, groupDef := range d.Groups {
		group := &NodeGroup{AgentType: groupDef.AgentType, Nodes: make([]*Node, 0, len(groupDef.Nodes))}
		for _, nodeDef := range groupDef.Nodes {
			node := &Node{
				Name:        nodeDef.Name,
				OutputNames: nodeDef.Outputs,
				Priority:    PriorityNormal,
				AllowRetry:  true,
				RunEarly:    nodeDef.RunEarly,
				Warnings:    true,
			}
			if nodeDef.Priority != "" {
				p, err := ParsePriority(nodeDef.Priority)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("node '%s': %s", nodeDef.Name, err.Error()))
				}
				node.Priority = p
			}
			if nodeDef.AllowRetry != nil {
				node.AllowRetry = *nodeDef.AllowRetry
			}
			if nodeDef.Warnings != nil {
				node.Warnings = *nodeDef.Warnings
			}

			inputDeps := make(map[NodeRef]struct{})
			for _, input := range nodeDef.Inputs {
				out, ok := outputRefs[strings.ToLower(input)]
				if !ok {
					errs = multierr.Append(errs, fmt.Errorf("node '%s' consumes unknown output '%s'", nodeDef.Name, input))
					continue
				}
				node.Inputs = append(node.Inputs, out)
				inputDeps[out.NodeRef] = struct{}{}
			}
			orderDeps := make(map[NodeRef]struct{}, len(inputDeps))
			for ref := range inputDeps {
				orderDeps[ref] = struct{}{}
			}
			for _, after := range nodeDef.After {
				ref, ok := nodeRefs[strings.ToLower(after)]
				if !ok {
					errs = multierr.Append(errs, fmt.Errorf("node '%s' runs after unknown node '%s'", nodeDef.Name, after))
					continue
				}
				orderDeps[ref] = struct{}{}
			}
			node.InputDependencies = sortedRefs(inputDeps)
			node.OrderDependencies = sortedRefs(orderDeps)
			group.Nodes = append(group.Nodes, node)
		}
		groups = append(groups, group)
	}

	aggregates := make([]*Aggregate, 0, len(d.Aggregates))
	for _, aggDef := range d.Aggregates {
		agg := &Aggregate{Name: aggDef.Name}
		for _, name := range aggDef.Nodes {
			ref, ok := nodeRefs[strings.ToLower(name)]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("aggregate '%s' references unknown node '%s'", aggDef.Name, name))
				continue
			}
			agg.Nodes = append(agg.Nodes, ref)
		}
		aggregates = append(aggregates, agg)
	}
	if errs != nil {
		return nil, errors.ErrInvalidGraph.GenWithStackByArgs(errs.Error())
	}
	return NewGraph(groups, aggregates)
}

func sortedRefs(set map[NodeRef]struct{}) []NodeRef {
	if len(set) == 0 {
		return nil
	}
	refs := make([]NodeRef, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Before(refs[j]) })
	return refs
}
