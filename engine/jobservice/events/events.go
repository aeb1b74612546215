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
	"fmt"
	"strconv"

	"github.com/pingcap/buildflow/engine/model"
)

// Kind is the kind of a JobEvent.
type Kind string

// All kinds of job events.
const (
	KindJobCreated              Kind = "job-created"
	KindJobDeleted              Kind = "job-deleted"
	KindBatchStateChanged       Kind = "batch-state-changed"
	KindBatchErrorChanged       Kind = "batch-error-changed"
	KindStepStateChanged        Kind = "step-state-changed"
	KindStepOutcomeChanged      Kind = "step-outcome-changed"
	KindSchedulePriorityChanged Kind = "schedule-priority-changed"
)

// JobEvent describes one observable change between two snapshots of a job.
// From is empty for a batch or step which did not exist before.
type JobEvent struct {
	Kind    Kind          `json:"kind"`
	JobID   string        `json:"job-id"`
	BatchID model.BatchID `json:"batch-id,omitempty"`
	StepID  model.StepID  `json:"step-id,omitempty"`
	From    string        `json:"from,omitempty"`
	To      string        `json:"to,omitempty"`
}

func (e JobEvent) String() string {
	target := e.JobID
	if e.BatchID != "" {
		target += "/" + string(e.BatchID)
	}
	if e.StepID != "" {
		target += "/" + string(e.StepID)
	}
	return fmt.Sprintf("%s %s: %q -> %q", e.Kind, target, e.From, e.To)
}

// Diff returns the events leading from oldJob to newJob, in batch and step
// order. A nil oldJob means the job was created, a nil newJob that it was
// deleted.
func Diff(oldJob, newJob *model.Job) []JobEvent {
	switch {
	case oldJob == nil && newJob == nil:
		return nil
	case newJob == nil:
		return []JobEvent{{Kind: KindJobDeleted, JobID: oldJob.ID}}
	}

	var evs []JobEvent
	oldBatches := make(map[model.BatchID]*model.Batch)
	oldPriority := 0
	if oldJob == nil {
		evs = append(evs, JobEvent{Kind: KindJobCreated, JobID: newJob.ID})
	} else {
		for _, batch := range oldJob.Batches {
			oldBatches[batch.ID] = batch
		}
		oldPriority = oldJob.SchedulePriority
	}

	for _, batch := range newJob.Batches {
		oldBatch := oldBatches[batch.ID]
		evs = append(evs, diffBatch(newJob.ID, oldBatch, batch)...)
	}
	if newJob.SchedulePriority != oldPriority {
		evs = append(evs, JobEvent{
			Kind:  KindSchedulePriorityChanged,
			JobID: newJob.ID,
			From:  strconv.Itoa(oldPriority),
			To:    strconv.Itoa(newJob.SchedulePriority),
		})
	}
	return evs
}

func diffBatch(jobID string, oldBatch, batch *model.Batch) []JobEvent {
	var evs []JobEvent
	oldSteps := make(map[model.StepID]*model.Step)
	var fromState, fromError string
	if oldBatch != nil {
		for _, step := range oldBatch.Steps {
			oldSteps[step.ID] = step
		}
		fromState, fromError = oldBatch.State.String(), oldBatch.Error.String()
	}
	if s := batch.State.String(); s != fromState {
		evs = append(evs, JobEvent{Kind: KindBatchStateChanged, JobID: jobID, BatchID: batch.ID, From: fromState, To: s})
	}
	// a new batch without error is not worth an event
	if e := batch.Error.String(); e != fromError && (oldBatch != nil || batch.Error != model.BatchErrorNone) {
		evs = append(evs, JobEvent{Kind: KindBatchErrorChanged, JobID: jobID, BatchID: batch.ID, From: fromError, To: e})
	}

	for _, step := range batch.Steps {
		var from, fromOutcome string
		oldStep, existed := oldSteps[step.ID]
		if existed {
			from, fromOutcome = oldStep.State.String(), oldStep.Outcome.String()
		}
		if s := step.State.String(); s != from {
			evs = append(evs, JobEvent{
				Kind: KindStepStateChanged, JobID: jobID, BatchID: batch.ID, StepID: step.ID, From: from, To: s,
			})
		}
		if o := step.Outcome.String(); o != fromOutcome && (existed || step.Outcome != model.StepOutcomeUnspecified) {
			evs = append(evs, JobEvent{
				Kind: KindStepOutcomeChanged, JobID: jobID, BatchID: batch.ID, StepID: step.ID, From: fromOutcome, To: o,
			})
		}
	}
	return evs
}
