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

// StepUpdate describes a change of a single step. Zero values leave the
// corresponding field unchanged.
type StepUpdate struct {
	BatchID BatchID `json:"batch-id"`
	StepID  StepID  `json:"step-id"`

	State   StepState   `json:"state,omitempty"`
	Outcome StepOutcome `json:"outcome,omitempty"`
	Error   *StepError  `json:"error,omitempty"`

	AbortRequested     *bool  `json:"abort-requested,omitempty"`
	AbortedBy          string `json:"aborted-by,omitempty"`
	CancellationReason string `json:"cancellation-reason,omitempty"`
	LogID              string `json:"log-id,omitempty"`
	// RetryBy requests a retry of the step, and of every step which caused
	// it to be skipped.
	RetryBy  string    `json:"retry-by,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
}

// BatchUpdate describes a change of a batch, usually reported by the agent
// holding its lease.
type BatchUpdate struct {
	BatchID BatchID     `json:"batch-id"`
	LogID   string      `json:"log-id,omitempty"`
	State   *BatchState `json:"state,omitempty"`
	Error   *BatchError `json:"error,omitempty"`
}

// LeaseAssignment binds a batch to an agent lease.
type LeaseAssignment struct {
	BatchIdx  int    `json:"batch-idx"`
	PoolID    string `json:"pool-id"`
	AgentID   string `json:"agent-id"`
	SessionID string `json:"session-id"`
	LeaseID   string `json:"lease-id"`
	LogID     string `json:"log-id"`
}

// JobUpdate describes a job level change. Nil fields are left unchanged.
type JobUpdate struct {
	Name               *string   `json:"name,omitempty"`
	Priority           *Priority `json:"priority,omitempty"`
	AutoSubmit         *bool     `json:"auto-submit,omitempty"`
	AbortedBy          string    `json:"aborted-by,omitempty"`
	CancellationReason string    `json:"cancellation-reason,omitempty"`
	Arguments          []string  `json:"arguments,omitempty"`
}
