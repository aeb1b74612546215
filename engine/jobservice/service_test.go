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

package jobservice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/buildflow/engine/jobservice/events"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/clock"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/engine/pkg/uuid"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testGraph = `
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

// testGraphWithLint has an extra group, so every later group index moves.
const testGraphWithLint = `
groups:
  - agent-type: Linux
    nodes:
      - name: Setup Build
        outputs: ["#Setup"]
  - agent-type: Lint
    nodes:
      - name: Lint
        inputs: ["#Setup"]
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

var testTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type recordingCanceller struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingCanceller) CancelLease(_ context.Context, jobID string, batchID model.BatchID, leaseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("%s/%s/%s", jobID, batchID, leaseID))
	return nil
}

func (c *recordingCanceller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type testSuite struct {
	svc     *Service
	clock   *clock.Mock
	uuid    *uuid.MockGenerator
	leases  *recordingCanceller
	graph   *model.Graph
	metaCli orm.Client
}

func newTestSuite(t *testing.T) *testSuite {
	metaCli, err := orm.NewMockClient()
	require.NoError(t, err)

	s := &testSuite{
		clock:   clock.NewMockAt(testTime),
		uuid:    uuid.NewMock(),
		leases:  &recordingCanceller{},
		metaCli: metaCli,
	}
	conf := DefaultConfig()
	conf.UpdateRetry = RetryConfig{BaseDelayMs: 1, MaxDelayMs: 10}
	s.svc, err = NewService(conf, Params{
		MetaClient: metaCli,
		Clock:      s.clock,
		UUIDGen:    s.uuid,
		Leases:     s.leases,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.svc.Close()
		require.NoError(t, metaCli.Close())
	})

	s.graph, err = s.svc.ImportGraph(context.Background(), mustGraph(t, testGraph))
	require.NoError(t, err)
	return s
}

func mustGraph(t *testing.T, def string) *model.Graph {
	t.Helper()
	d, err := model.ParseGraphDefinition([]byte(def))
	require.NoError(t, err)
	g, err := d.Compile()
	require.NoError(t, err)
	return g
}

func (s *testSuite) createJob(t *testing.T, id string, priority model.Priority) *model.Job {
	t.Helper()
	job, err := s.svc.CreateJob(context.Background(), CreateJobRequest{
		ID:        id,
		Name:      "test",
		GraphHash: s.graph.Hash,
		Arguments: []string{"-Target=CompileB"},
		Priority:  priority,
	})
	require.NoError(t, err)
	return job
}

// stepOf returns the batch and step running the named node of s.graph.
func stepOf(t *testing.T, job *model.Job, g *model.Graph, name string) (*model.Batch, *model.Step) {
	t.Helper()
	ref, ok := g.TryFindNode(name)
	require.True(t, ok)
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
	require.NotNil(t, foundStep, "no step for %s", name)
	return foundBatch, foundStep
}

// drainEvents returns the events delivered to rx so far.
func drainEvents(t *testing.T, svc *Service, rx <-chan events.JobEvent) []events.JobEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.FlushEvents(ctx))
	var ret []events.JobEvent
	for {
		select {
		case ev := <-rx:
			ret = append(ret, ev)
		default:
			return ret
		}
	}
}

func kinds(evs []events.JobEvent) []events.Kind {
	ret := make([]events.Kind, 0, len(evs))
	for _, ev := range evs {
		ret = append(ret, ev.Kind)
	}
	return ret
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()

	s.uuid.Push("job-generated")
	job := s.createJob(t, "", model.PriorityNormal)
	require.Equal(t, "job-generated", job.ID)
	require.Equal(t, int64(0), job.UpdateIndex)
	require.Len(t, job.Batches, 3)
	require.Equal(t, testTime, job.CreateTime)
	require.Greater(t, job.SchedulePriority, 0)

	got, err := s.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Batches[0].ID, got.Batches[0].ID)
	require.Equal(t, job.SchedulePriority, got.SchedulePriority)

	_, err = s.svc.CreateJob(ctx, CreateJobRequest{ID: job.ID, GraphHash: s.graph.Hash})
	require.True(t, errors.Is(err, errors.ErrJobAlreadyExists), err)

	_, err = s.svc.CreateJob(ctx, CreateJobRequest{ID: "job-2", GraphHash: "unknown"})
	require.True(t, errors.Is(err, errors.ErrGraphNotFound), err)

	_, err = s.svc.GetJob(ctx, "job-unknown")
	require.True(t, errors.Is(err, errors.ErrJobNotFound), err)

	jobs, err := s.svc.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestGraphCacheSharesInstances(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()

	g1, err := s.svc.GetGraph(ctx, s.graph.Hash)
	require.NoError(t, err)
	require.Same(t, s.graph, g1)

	// an equal graph parsed again resolves to the cached instance
	g2, err := s.svc.ImportGraph(ctx, mustGraph(t, testGraph))
	require.NoError(t, err)
	require.Same(t, s.graph, g2)

	// a fresh cache loads the graph from the store
	cache, err := newGraphCache(s.metaCli, 4)
	require.NoError(t, err)
	g3, err := cache.get(ctx, s.graph.Hash)
	require.NoError(t, err)
	require.NotSame(t, s.graph, g3)
	require.Equal(t, s.graph.Hash, g3.Hash)
	g4, err := cache.get(ctx, s.graph.Hash)
	require.NoError(t, err)
	require.Same(t, g3, g4)

	_, err = cache.get(ctx, "unknown")
	require.True(t, errors.Is(err, errors.ErrGraphNotFound), err)
}

func TestTryUpdateConflict(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	job := s.createJob(t, "job-1", model.PriorityNormal)
	batch, step := stepOf(t, job, s.graph, "Setup Build")
	running := model.StepUpdate{BatchID: batch.ID, StepID: step.ID, State: model.StepStateRunning}

	updated, err := s.svc.TryUpdateStep(ctx, job, running)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.UpdateIndex)
	_, step = stepOf(t, updated, s.graph, "Setup Build")
	require.Equal(t, model.StepStateRunning, step.State)
	require.Equal(t, testTime, *step.StartTime)

	// the original snapshot is stale now
	name := "renamed"
	_, err = s.svc.TryUpdateJob(ctx, job, model.JobUpdate{Name: &name})
	require.True(t, errors.Is(err, errors.ErrJobUpdateConflict), err)

	// the retrying variant re-reads the job
	renamed, err := s.svc.UpdateJob(ctx, job.ID, model.JobUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, int64(2), renamed.UpdateIndex)
	require.Equal(t, "renamed", renamed.Name)

	stored, err := s.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.UpdateIndex)
	require.Equal(t, "renamed", stored.Name)
	_, step = stepOf(t, stored, s.graph, "Setup Build")
	require.Equal(t, model.StepStateRunning, step.State)
}

func TestUpdateWithoutChangeDoesNotWrite(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	job := s.createJob(t, "job-1", model.PriorityNormal)

	name := job.Name
	same, err := s.svc.UpdateJob(ctx, job.ID, model.JobUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, int64(0), same.UpdateIndex)

	// skipping an unknown batch is a no-op as well
	same, err = s.svc.SkipBatch(ctx, job.ID, "ffff", model.BatchErrorCancelled)
	require.NoError(t, err)
	require.Equal(t, int64(0), same.UpdateIndex)
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job := s.createJob(t, "job-1", model.PriorityNormal)

	const writers = 5
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		name := fmt.Sprintf("writer-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.UpdateJob(ctx, job.ID, model.JobUpdate{Name: &name})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	stored, err := s.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(writers), stored.UpdateIndex)
}

func TestEvents(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	rx := s.svc.Subscribe("job-1")
	defer rx.Close()
	other := s.svc.Subscribe("job-2")
	defer other.Close()

	job := s.createJob(t, "job-1", model.PriorityNormal)
	evs := drainEvents(t, s.svc, rx.C)
	require.NotEmpty(t, evs)
	require.Equal(t, events.KindJobCreated, evs[0].Kind)
	require.Equal(t, events.KindSchedulePriorityChanged, evs[len(evs)-1].Kind)
	require.Empty(t, drainEvents(t, s.svc, other.C))

	batch, step := stepOf(t, job, s.graph, "Setup Build")
	_, err := s.svc.UpdateStep(ctx, job.ID, model.StepUpdate{
		BatchID: batch.ID, StepID: step.ID, State: model.StepStateRunning,
	})
	require.NoError(t, err)
	evs = drainEvents(t, s.svc, rx.C)
	require.Equal(t, []events.JobEvent{{
		Kind:    events.KindStepStateChanged,
		JobID:   "job-1",
		BatchID: batch.ID,
		StepID:  step.ID,
		From:    "Ready",
		To:      "Running",
	}}, evs)

	require.NoError(t, s.svc.DeleteJob(ctx, job.ID))
	evs = drainEvents(t, s.svc, rx.C)
	require.Equal(t, []events.Kind{events.KindJobDeleted}, kinds(evs))
	_, err = s.svc.GetJob(ctx, job.ID)
	require.True(t, errors.Is(err, errors.ErrJobNotFound), err)
}

func TestAbortCancelsLeases(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	job := s.createJob(t, "job-1", model.PriorityNormal)
	batch, step := stepOf(t, job, s.graph, "Setup Build")
	require.Equal(t, model.BatchStateReady, batch.State)
	batchIdx, _, ok := job.FindBatch(batch.ID)
	require.True(t, ok)

	job, err := s.svc.AssignLease(ctx, job.ID, model.LeaseAssignment{
		BatchIdx:  batchIdx,
		PoolID:    "pool-1",
		AgentID:   "agent-1",
		SessionID: "session-1",
		LeaseID:   "lease-1",
	})
	require.NoError(t, err)
	require.Equal(t, "lease-1", job.Batches[batchIdx].LeaseID)

	_, err = s.svc.AssignLease(ctx, job.ID, model.LeaseAssignment{BatchIdx: batchIdx, SessionID: "session-2"})
	require.True(t, errors.Is(err, errors.ErrBatchSessionAssigned), err)

	starting := model.BatchStateStarting
	_, err = s.svc.UpdateBatch(ctx, job.ID, model.BatchUpdate{BatchID: batch.ID, State: &starting})
	require.NoError(t, err)
	job, err = s.svc.UpdateStep(ctx, job.ID, model.StepUpdate{
		BatchID: batch.ID, StepID: step.ID, State: model.StepStateRunning,
	})
	require.NoError(t, err)
	require.Equal(t, model.BatchStateRunning, job.Batches[batchIdx].State)
	require.Empty(t, s.leases.Calls())

	job, err = s.svc.UpdateJob(ctx, job.ID, model.JobUpdate{AbortedBy: "alice", CancellationReason: "not needed"})
	require.NoError(t, err)
	require.True(t, job.IsAborted())
	require.Len(t, job.Batches, 1)
	require.Equal(t, model.BatchErrorNoLongerNeeded, job.Batches[0].Error)
	require.Equal(t, []string{"job-1/" + string(batch.ID) + "/lease-1"}, s.leases.Calls())

	// the batch was already flagged, the lease is not cancelled twice
	reason := "still not needed"
	_, err = s.svc.UpdateJob(ctx, job.ID, model.JobUpdate{CancellationReason: reason})
	require.NoError(t, err)
	require.Len(t, s.leases.Calls(), 1)

	job, err = s.svc.CancelLease(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Empty(t, job.Batches[0].LeaseID)
	_, err = s.svc.CancelLease(ctx, job.ID, 7)
	require.True(t, errors.Is(err, errors.ErrBatchNotFound), err)
}

func TestDispatchQueue(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	normal := s.createJob(t, "job-normal", model.PriorityNormal)
	s.clock.Add(time.Second)
	high := s.createJob(t, "job-high", model.PriorityHigh)
	require.Greater(t, high.SchedulePriority, normal.SchedulePriority)

	queue, err := s.svc.GetDispatchQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	require.Equal(t, "job-high", queue[0].ID)
	require.Equal(t, "job-normal", queue[1].ID)

	removed, err := s.svc.RemoveFromDispatchQueue(ctx, high.ID)
	require.NoError(t, err)
	require.Equal(t, 0, removed.SchedulePriority)
	require.Equal(t, testTime.Add(time.Second), removed.UpdateTime)

	queue, err = s.svc.GetDispatchQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, "job-normal", queue[0].ID)
}

func TestBatchFailureAndSkips(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	job := s.createJob(t, "job-1", model.PriorityNormal)
	batch, _ := stepOf(t, job, s.graph, "Setup Build")
	batchIdx, _, ok := job.FindBatch(batch.ID)
	require.True(t, ok)

	job, err := s.svc.FailBatch(ctx, job.ID, batchIdx, model.BatchErrorSyncingFailed)
	require.NoError(t, err)
	require.Equal(t, model.BatchStateComplete, job.Batches[batchIdx].State)
	require.Equal(t, model.BatchErrorSyncingFailed, job.Batches[batchIdx].Error)
	_, setup := stepOf(t, job, s.graph, "Setup Build")
	require.Equal(t, model.StepStateSkipped, setup.State)
	_, compileA := stepOf(t, job, s.graph, "CompileA")
	require.Equal(t, model.StepStateSkipped, compileA.State)

	_, err = s.svc.FailBatch(ctx, job.ID, 9, model.BatchErrorSyncingFailed)
	require.True(t, errors.Is(err, errors.ErrBatchNotFound), err)

	other := s.createJob(t, "job-2", model.PriorityNormal)
	other, err = s.svc.SkipAllBatches(ctx, other.ID, model.BatchErrorCancelled)
	require.NoError(t, err)
	for _, batch := range other.Batches {
		require.Equal(t, model.BatchStateComplete, batch.State)
	}
	require.Equal(t, 0, other.SchedulePriority)
}

func TestUpdateGraph(t *testing.T) {
	t.Parallel()

	s := newTestSuite(t)
	ctx := context.Background()
	newGraph, err := s.svc.ImportGraph(ctx, mustGraph(t, testGraphWithLint))
	require.NoError(t, err)

	job := s.createJob(t, "job-1", model.PriorityNormal)
	_, compileA := stepOf(t, job, s.graph, "CompileA")

	migrated, err := s.svc.UpdateGraph(ctx, job.ID, newGraph.Hash)
	require.NoError(t, err)
	require.Equal(t, newGraph.Hash, migrated.GraphHash)
	require.Equal(t, int64(1), migrated.UpdateIndex)
	batch, step := stepOf(t, migrated, newGraph, "CompileA")
	require.Equal(t, 2, batch.GroupIdx)
	require.Equal(t, compileA.ID, step.ID)

	jobs, err := s.svc.ListJobsByGraph(ctx, newGraph.Hash)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	jobs, err = s.svc.ListJobsByGraph(ctx, s.graph.Hash)
	require.NoError(t, err)
	require.Empty(t, jobs)

	// moving to the current graph again changes nothing
	same, err := s.svc.UpdateGraph(ctx, job.ID, newGraph.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(1), same.UpdateIndex)

	_, err = s.svc.UpdateGraph(ctx, job.ID, "unknown")
	require.True(t, errors.Is(err, errors.ErrGraphNotFound), err)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	conf := DefaultConfig()
	require.NoError(t, conf.Validate())

	conf.GraphCacheSize = 0
	require.True(t, errors.Is(conf.Validate(), errors.ErrInvalidConfig))

	conf = DefaultConfig()
	conf.UpdateRetry.MaxDelayMs = 1
	require.True(t, errors.Is(conf.Validate(), errors.ErrInvalidConfig))

	_, err := NewService(DefaultConfig(), Params{})
	require.True(t, errors.Is(err, errors.ErrInvalidArgument), err)
}
