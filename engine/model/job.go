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
	"time"
)

// SubResourceID is a per job counter used to mint batch and step ids.
type SubResourceID uint16

// Next returns the next id.
func (id SubResourceID) Next() SubResourceID {
	return id + 1
}

// String formats the id as four hex digits.
func (id SubResourceID) String() string {
	return fmt.Sprintf("%04x", uint16(id))
}

// BatchID identifies a batch within a job.
type BatchID string

// StepID identifies a step within a job.
type StepID string

// Job is one run of (a subset of) a graph.
type Job struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	GraphHash string   `json:"graph-hash"`
	Arguments []string `json:"arguments,omitempty"`
	Priority  Priority `json:"priority"`

	AutoSubmit         bool   `json:"auto-submit,omitempty"`
	UpdateIssues       bool   `json:"update-issues,omitempty"`
	AbortedBy          string `json:"aborted-by,omitempty"`
	CancellationReason string `json:"cancellation-reason,omitempty"`

	CreateTime time.Time `json:"create-time"`
	UpdateTime time.Time `json:"update-time"`
	// UpdateIndex is incremented by every successful write, and every write
	// is conditioned on it.
	UpdateIndex int64 `json:"update-index"`

	// SchedulePriority is the highest SchedulePriority of the Ready batches,
	// zero if nothing can be dispatched.
	SchedulePriority  int           `json:"schedule-priority"`
	NextSubResourceID SubResourceID `json:"next-sub-resource-id"`
	// RetriedNodes has one entry for every retry of a node.
	RetriedNodes []NodeRef `json:"retried-nodes,omitempty"`
	Batches      []*Batch  `json:"batches,omitempty"`
}

// Batch is a run of steps of one group, executed by a single lease.
type Batch struct {
	ID       BatchID    `json:"id"`
	GroupIdx int        `json:"group-idx"`
	State    BatchState `json:"state"`
	Error    BatchError `json:"error"`
	Steps    []*Step    `json:"steps,omitempty"`

	PoolID    string `json:"pool-id,omitempty"`
	AgentID   string `json:"agent-id,omitempty"`
	SessionID string `json:"session-id,omitempty"`
	LeaseID   string `json:"lease-id,omitempty"`
	LogID     string `json:"log-id,omitempty"`

	SchedulePriority int        `json:"schedule-priority"`
	ReadyTime        *time.Time `json:"ready-time,omitempty"`
	StartTime        *time.Time `json:"start-time,omitempty"`
	FinishTime       *time.Time `json:"finish-time,omitempty"`
}

// Step is one execution of a node within a job.
type Step struct {
	ID      StepID      `json:"id"`
	NodeIdx int         `json:"node-idx"`
	State   StepState   `json:"state"`
	Outcome StepOutcome `json:"outcome"`
	Error   StepError   `json:"error"`

	// Retry is set when this execution is superseded by a new one.
	Retry              bool   `json:"retry,omitempty"`
	RetriedBy          string `json:"retried-by,omitempty"`
	AbortRequested     bool   `json:"abort-requested,omitempty"`
	AbortedBy          string `json:"aborted-by,omitempty"`
	CancellationReason string `json:"cancellation-reason,omitempty"`
	LogID              string `json:"log-id,omitempty"`

	Priority   *Priority  `json:"priority,omitempty"`
	StartTime  *time.Time `json:"start-time,omitempty"`
	FinishTime *time.Time `json:"finish-time,omitempty"`
}

// NewBatch creates an empty Waiting batch.
func NewBatch(id BatchID, groupIdx int) *Batch {
	return &Batch{ID: id, GroupIdx: groupIdx, State: BatchStateWaiting}
}

// NewStep creates a Waiting step.
func NewStep(id StepID, nodeIdx int) *Step {
	return &Step{ID: id, NodeIdx: nodeIdx, State: StepStateWaiting}
}

// IsAborted returns true once somebody has aborted the job.
func (j *Job) IsAborted() bool {
	return j.AbortedBy != ""
}

// FindBatch returns the index and the batch with the given id.
func (j *Job) FindBatch(id BatchID) (int, *Batch, bool) {
	for idx, batch := range j.Batches {
		if batch.ID == id {
			return idx, batch, true
		}
	}
	return -1, nil, false
}

// FindStep returns the step with the given id in the given batch.
func (j *Job) FindStep(batchID BatchID, stepID StepID) (*Batch, *Step, bool) {
	_, batch, ok := j.FindBatch(batchID)
	if !ok {
		return nil, nil, false
	}
	for _, step := range batch.Steps {
		if step.ID == stepID {
			return batch, step, true
		}
	}
	return batch, nil, false
}

// LastStep returns the most recently appended step of the batch, or nil.
func (b *Batch) LastStep() *Step {
	if len(b.Steps) == 0 {
		return nil
	}
	return b.Steps[len(b.Steps)-1]
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Arguments = cloneSlice(j.Arguments)
	c.RetriedNodes = cloneSlice(j.RetriedNodes)
	if j.Batches != nil {
		c.Batches = make([]*Batch, len(j.Batches))
		for i, batch := range j.Batches {
			c.Batches[i] = batch.Clone()
		}
	}
	return &c
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	c := *b
	c.ReadyTime = cloneTime(b.ReadyTime)
	c.StartTime = cloneTime(b.StartTime)
	c.FinishTime = cloneTime(b.FinishTime)
	if b.Steps != nil {
		c.Steps = make([]*Step, len(b.Steps))
		for i, step := range b.Steps {
			c.Steps[i] = step.Clone()
		}
	}
	return &c
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	c := *s
	if s.Priority != nil {
		p := *s.Priority
		c.Priority = &p
	}
	c.StartTime = cloneTime(s.StartTime)
	c.FinishTime = cloneTime(s.FinishTime)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
