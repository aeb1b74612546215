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
	"testing"
	"time"

	"github.com/pingcap/buildflow/engine/model"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// linearGraph is Setup Build -> CompileA -> CompileB, one group each.
const linearGraph = `
groups:
  - agent-type: Linux
    nodes:
      - name: Setup Build
        outputs: ["#Setup"]
  - agent-type: Win64
    nodes:
      - name: CompileA
        inputs: ["#Setup"]
        outputs: ["#A"]
  - agent-type: Mac
    nodes:
      - name: CompileB
        inputs: ["#A"]
`

func mustGraph(t *testing.T, def string) *model.Graph {
	t.Helper()
	d, err := model.ParseGraphDefinition([]byte(def))
	require.NoError(t, err)
	g, err := d.Compile()
	require.NoError(t, err)
	return g
}

func mustJob(t *testing.T, g *model.Graph, args ...string) *model.Job {
	t.Helper()
	job, err := NewJob(&NewJobRequest{
		ID:        "job-1",
		Name:      "test",
		Arguments: args,
		Priority:  model.PriorityNormal,
	}, g, t0)
	require.NoError(t, err)
	requireWellFormed(t, job, g)
	return job
}

// findStep returns the most recent step of the named node.
func findStep(t *testing.T, job *model.Job, g *model.Graph, name string) (*model.Batch, *model.Step) {
	t.Helper()
	ref, ok := g.TryFindNode(name)
	require.True(t, ok, name)
	var (
		foundBatch *model.Batch
		foundStep  *model.Step
	)
	for _, batch := range job.Batches {
		if batch.GroupIdx != ref.GroupIdx {
			continue
		}
		for _, step := range batch.Steps {
			if step.NodeIdx == ref.NodeIdx {
				foundBatch, foundStep = batch, step
			}
		}
	}
	require.NotNil(t, foundStep, "no step for node %s", name)
	return foundBatch, foundStep
}

func stepNames(batch *model.Batch, g *model.Graph) []string {
	names := make([]string, 0, len(batch.Steps))
	for _, step := range batch.Steps {
		names = append(names, g.Groups[batch.GroupIdx].Nodes[step.NodeIdx].Name)
	}
	return names
}

// requireWellFormed checks the structural invariants every snapshot holds.
func requireWellFormed(t *testing.T, job *model.Job, g *model.Graph) {
	t.Helper()
	ids := make(map[string]struct{})
	for _, batch := range job.Batches {
		require.NotContains(t, ids, string(batch.ID), "duplicate id %s", batch.ID)
		ids[string(batch.ID)] = struct{}{}
		require.Less(t, batch.GroupIdx, len(g.Groups))
		last := -1
		for _, step := range batch.Steps {
			require.NotContains(t, ids, string(step.ID), "duplicate id %s", step.ID)
			ids[string(step.ID)] = struct{}{}
			require.Greater(t, step.NodeIdx, last, "batch %s steps out of order", batch.ID)
			require.Less(t, step.NodeIdx, len(g.Groups[batch.GroupIdx].Nodes))
			last = step.NodeIdx
		}
	}
}

func updateStep(t *testing.T, job *model.Job, g *model.Graph, name string, upd model.StepUpdate, now time.Time) {
	t.Helper()
	batch, step := findStep(t, job, g, name)
	upd.BatchID, upd.StepID = batch.ID, step.ID
	require.NoError(t, ApplyStepUpdate(job, g, &upd, now))
	requireWellFormed(t, job, g)
}

// completeStep drives the step of the node through Running to Completed.
func completeStep(t *testing.T, job *model.Job, g *model.Graph, name string, outcome model.StepOutcome, now time.Time) {
	t.Helper()
	updateStep(t, job, g, name, model.StepUpdate{State: model.StepStateRunning}, now)
	updateStep(t, job, g, name, model.StepUpdate{State: model.StepStateCompleted, Outcome: outcome}, now.Add(time.Minute))
}

func batchStatePtr(s model.BatchState) *model.BatchState { return &s }

func batchErrorPtr(e model.BatchError) *model.BatchError { return &e }
