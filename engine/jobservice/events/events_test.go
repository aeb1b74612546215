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

package events

import (
	"testing"

	"github.com/pingcap/buildflow/engine/model"
	"github.com/stretchr/testify/require"
)

func newTestJob() *model.Job {
	batch := model.NewBatch("0001", 0)
	batch.State = model.BatchStateReady
	step := model.NewStep("0002", 0)
	step.State = model.StepStateReady
	batch.Steps = append(batch.Steps, step)
	return &model.Job{ID: "job-1", SchedulePriority: 23, Batches: []*model.Batch{batch}}
}

func TestDiffCreateAndDelete(t *testing.T) {
	t.Parallel()

	job := newTestJob()
	require.Equal(t, []JobEvent{
		{Kind: KindJobCreated, JobID: "job-1"},
		{Kind: KindBatchStateChanged, JobID: "job-1", BatchID: "0001", To: "Ready"},
		{Kind: KindStepStateChanged, JobID: "job-1", BatchID: "0001", StepID: "0002", To: "Ready"},
		{Kind: KindSchedulePriorityChanged, JobID: "job-1", From: "0", To: "23"},
	}, Diff(nil, job))

	require.Equal(t, []JobEvent{{Kind: KindJobDeleted, JobID: "job-1"}}, Diff(job, nil))
	require.Nil(t, Diff(nil, nil))
	require.Empty(t, Diff(job, job.Clone()))
}

func TestDiffChanges(t *testing.T) {
	t.Parallel()

	oldJob := newTestJob()
	newJob := oldJob.Clone()
	newJob.SchedulePriority = 0
	batch := newJob.Batches[0]
	batch.State = model.BatchStateComplete
	batch.Error = model.BatchErrorSyncingFailed
	batch.Steps[0].State = model.StepStateAborted
	batch.Steps[0].Outcome = model.StepOutcomeFailure
	// a new step appended to the batch
	added := model.NewStep("0003", 1)
	batch.Steps = append(batch.Steps, added)

	evs := Diff(oldJob, newJob)
	require.Equal(t, []JobEvent{
		{Kind: KindBatchStateChanged, JobID: "job-1", BatchID: "0001", From: "Ready", To: "Complete"},
		{Kind: KindBatchErrorChanged, JobID: "job-1", BatchID: "0001", From: "None", To: "SyncingFailed"},
		{Kind: KindStepStateChanged, JobID: "job-1", BatchID: "0001", StepID: "0002", From: "Ready", To: "Aborted"},
		{Kind: KindStepOutcomeChanged, JobID: "job-1", BatchID: "0001", StepID: "0002", From: "Unspecified", To: "Failure"},
		{Kind: KindStepStateChanged, JobID: "job-1", BatchID: "0001", StepID: "0003", To: "Waiting"},
		{Kind: KindSchedulePriorityChanged, JobID: "job-1", From: "23", To: "0"},
	}, evs)
	require.Equal(t, `batch-state-changed job-1/0001: "Ready" -> "Complete"`, evs[0].String())
}
