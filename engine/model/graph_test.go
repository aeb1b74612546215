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
	"testing"

	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestGroups() []*NodeGroup {
	return []*NodeGroup{
		{
			AgentType: "Linux",
			Nodes: []*Node{
				{Name: "Setup Build", OutputNames: []string{"#Setup"}, AllowRetry: true},
				{
					Name:              "Compile",
					InputDependencies: []NodeRef{{0, 0}},
					OrderDependencies: []NodeRef{{0, 0}},
					Inputs:            []NodeOutputRef{{NodeRef: NodeRef{0, 0}}},
					OutputNames:       []string{"#Binaries"},
					AllowRetry:        true,
				},
			},
		},
		{
			AgentType: "Win64",
			Nodes: []*Node{
				{
					Name:              "Test",
					InputDependencies: []NodeRef{{0, 1}},
					OrderDependencies: []NodeRef{{0, 1}},
					Priority:          PriorityHigh,
				},
			},
		},
	}
}

func TestNewGraph(t *testing.T) {
	t.Parallel()

	g, err := NewGraph(newTestGroups(), []*Aggregate{{Name: "All", Nodes: []NodeRef{{1, 0}}}})
	require.NoError(t, err)
	require.Len(t, g.Hash, 64)
	require.Equal(t, 3, g.NodeCount())

	ref, ok := g.TryFindNode("compile")
	require.True(t, ok)
	require.Equal(t, NodeRef{0, 1}, ref)
	require.Equal(t, "Compile", g.GetNode(ref).Name)
	require.Equal(t, "#Setup", g.InputName(g.GetNode(ref).Inputs[0]))

	_, ok = g.TryFindNode("Package")
	require.False(t, ok)
	require.False(t, g.HasNode(NodeRef{1, 1}))

	// the hash only depends on the content
	g2, err := NewGraph(newTestGroups(), []*Aggregate{{Name: "All", Nodes: []NodeRef{{1, 0}}}})
	require.NoError(t, err)
	require.Equal(t, g.Hash, g2.Hash)

	groups := newTestGroups()
	groups[1].Nodes[0].Priority = PriorityBelowNormal
	g3, err := NewGraph(groups, nil)
	require.NoError(t, err)
	require.NotEqual(t, g.Hash, g3.Hash)
}

func TestNewGraphValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(groups []*NodeGroup)
		msg    string
	}{
		{
			name: "forward reference",
			mutate: func(groups []*NodeGroup) {
				groups[0].Nodes[0].OrderDependencies = []NodeRef{{0, 1}}
			},
			msg: "not before it",
		},
		{
			name: "self reference",
			mutate: func(groups []*NodeGroup) {
				groups[0].Nodes[1].InputDependencies = []NodeRef{{0, 1}}
			},
			msg: "not before it",
		},
		{
			name: "out of range",
			mutate: func(groups []*NodeGroup) {
				groups[1].Nodes[0].OrderDependencies = []NodeRef{{0, 7}}
			},
			msg: "unknown node",
		},
		{
			name: "duplicate name",
			mutate: func(groups []*NodeGroup) {
				groups[1].Nodes[0].Name = "COMPILE"
			},
			msg: "is defined at both",
		},
		{
			name: "bad output index",
			mutate: func(groups []*NodeGroup) {
				groups[0].Nodes[1].Inputs[0].OutputIdx = 3
			},
			msg: "unknown output",
		},
	}
	for _, tc := range testCases {
		groups := newTestGroups()
		tc.mutate(groups)
		_, err := NewGraph(groups, nil)
		require.Error(t, err, tc.name)
		require.True(t, errors.Is(err, errors.ErrInvalidGraph), tc.name)
		require.Contains(t, err.Error(), tc.msg, tc.name)
	}

	_, err := NewGraph(newTestGroups(), []*Aggregate{{Name: "Bad", Nodes: []NodeRef{{3, 0}}}})
	require.True(t, errors.Is(err, errors.ErrInvalidGraph))
}

func TestGraphEncodeDecode(t *testing.T) {
	t.Parallel()

	g, err := NewGraph(newTestGroups(), []*Aggregate{{Name: "All", Nodes: []NodeRef{{1, 0}}}})
	require.NoError(t, err)
	data, err := g.Encode()
	require.NoError(t, err)

	decoded, err := DecodeGraph(data)
	require.NoError(t, err)
	require.Equal(t, g.Hash, decoded.Hash)
	require.Equal(t, g.Groups, decoded.Groups)
	ref, ok := decoded.TryFindNode("TEST")
	require.True(t, ok)
	require.Equal(t, NodeRef{1, 0}, ref)

	_, err = DecodeGraph([]byte("{"))
	require.True(t, errors.Is(err, errors.ErrInvalidGraph))
}

func TestNewGraphCompletesDependencies(t *testing.T) {
	t.Parallel()

	groups := []*NodeGroup{
		{Nodes: []*Node{
			{Name: "Setup Build", OutputNames: []string{"#Setup"}},
			{Name: "Tools", OutputNames: []string{"#Tools"}},
		}},
		{Nodes: []*Node{{
			Name:              "Compile",
			InputDependencies: []NodeRef{{0, 1}, {0, 0}, {0, 1}},
			Inputs:            []NodeOutputRef{{NodeRef: NodeRef{0, 0}}},
		}}},
		{Nodes: []*Node{{
			Name:              "Package",
			Inputs:            []NodeOutputRef{{NodeRef: NodeRef{1, 0}}},
			OrderDependencies: []NodeRef{{0, 1}},
		}}},
	}
	g, err := NewGraph(groups, nil)
	require.NoError(t, err)

	compile := g.GetNode(NodeRef{1, 0})
	require.Equal(t, []NodeRef{{0, 0}, {0, 1}}, compile.InputDependencies)
	require.Equal(t, []NodeRef{{0, 0}, {0, 1}}, compile.OrderDependencies)

	pkg := g.GetNode(NodeRef{2, 0})
	require.Equal(t, []NodeRef{{1, 0}}, pkg.InputDependencies)
	require.Equal(t, []NodeRef{{0, 1}, {1, 0}}, pkg.OrderDependencies)

	require.Empty(t, g.GetNode(NodeRef{0, 0}).OrderDependencies)

	// a decoded document is completed the same way and hashes the same
	decoded, err := DecodeGraph([]byte(`{"groups":[
		{"nodes":[{"name":"Setup Build","output-names":["#Setup"]},{"name":"Tools","output-names":["#Tools"]}]},
		{"nodes":[{"name":"Compile","input-dependencies":[{"group-idx":0,"node-idx":1},{"group-idx":0,"node-idx":0}],
			"inputs":[{"node":{"group-idx":0,"node-idx":0},"output-idx":0}]}]},
		{"nodes":[{"name":"Package","inputs":[{"node":{"group-idx":1,"node-idx":0},"output-idx":0}],
			"order-dependencies":[{"group-idx":0,"node-idx":1}]}]}]}`))
	require.NoError(t, err)
	require.Equal(t, g.Hash, decoded.Hash)
	require.Equal(t, []NodeRef{{0, 1}, {1, 0}}, decoded.GetNode(NodeRef{2, 0}).OrderDependencies)
}

func TestDecodeGraphNilEntries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		doc  string
		msg  string
	}{
		{
			name: "dependency into nil group",
			doc:  `{"groups":[null,{"nodes":[{"name":"a","input-dependencies":[{"group-idx":0,"node-idx":0}]}]}]}`,
			msg:  "unknown node",
		},
		{
			name: "order dependency into nil group",
			doc:  `{"groups":[null,{"nodes":[{"name":"a","order-dependencies":[{"group-idx":0,"node-idx":0}]}]}]}`,
			msg:  "group 0 is nil",
		},
		{
			name: "input from nil group",
			doc:  `{"groups":[null,{"nodes":[{"name":"a","inputs":[{"node":{"group-idx":0,"node-idx":0},"output-idx":0}]}]}]}`,
			msg:  "unknown node",
		},
		{
			name: "nil node",
			doc:  `{"groups":[{"nodes":[null,{"name":"a","input-dependencies":[{"group-idx":0,"node-idx":0}]}]}]}`,
			msg:  "has no name",
		},
		{
			name: "input from nil node",
			doc:  `{"groups":[{"nodes":[null,{"name":"a","inputs":[{"node":{"group-idx":0,"node-idx":0},"output-idx":0}]}]}]}`,
			msg:  "has no name",
		},
	}
	for _, tc := range testCases {
		var (
			g   *Graph
			err error
		)
		require.NotPanics(t, func() { g, err = DecodeGraph([]byte(tc.doc)) }, tc.name)
		require.Nil(t, g, tc.name)
		require.True(t, errors.Is(err, errors.ErrInvalidGraph), tc.name)
		require.Contains(t, err.Error(), tc.msg, tc.name)
	}
}
