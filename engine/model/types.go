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
	"strings"

	"github.com/pingcap/buildflow/pkg/errors"
)

// enumNames maps enum values, used as indices, to their textual names.
type enumNames []string

func (n enumNames) name(v int, kind string) string {
	if v < 0 || v >= len(n) {
		return fmt.Sprintf("Unknown%s(%d)", kind, v)
	}
	return n[v]
}

func (n enumNames) parse(s string, kind string) (int, error) {
	for i, name := range n {
		if strings.EqualFold(name, s) {
			return i, nil
		}
	}
	return 0, errors.ErrInvalidArgument.GenWithStackByArgs(
		fmt.Sprintf("unknown %s %q", kind, s))
}

// Priority is the scheduling priority of a job or a node.
type Priority int

// Defines all priorities, from lowest to highest.
// NOTICE: DO NOT CHANGE the order, the values take part in SchedulePriority.
const (
	PriorityLowest Priority = iota
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityHighest
)

var priorityNames = enumNames{
	PriorityLowest:      "Lowest",
	PriorityBelowNormal: "BelowNormal",
	PriorityNormal:      "Normal",
	PriorityAboveNormal: "AboveNormal",
	PriorityHigh:        "High",
	PriorityHighest:     "Highest",
}

// String implements fmt.Stringer.
func (p Priority) String() string { return priorityNames.name(int(p), "Priority") }

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	*p = v
	return err
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	v, err := priorityNames.parse(s, "priority")
	return Priority(v), err
}

// BatchState is the state of a batch.
//
//	Waiting ──> Ready ──> Starting ──> Running ──> Complete
//	   │          │                                   ^
//	   └──────────┴───────────────────────────────────┘
//	         (all steps terminal, skipped or failed)
//
// The order matters: every state <= Running can still receive new steps.
type BatchState int

// Defines all batch states.
const (
	BatchStateWaiting BatchState = iota
	BatchStateReady
	BatchStateStarting
	BatchStateRunning
	BatchStateComplete
)

var batchStateNames = enumNames{
	BatchStateWaiting:  "Waiting",
	BatchStateReady:    "Ready",
	BatchStateStarting: "Starting",
	BatchStateRunning:  "Running",
	BatchStateComplete: "Complete",
}

// String implements fmt.Stringer.
func (s BatchState) String() string { return batchStateNames.name(int(s), "BatchState") }

// MarshalText implements encoding.TextMarshaler.
func (s BatchState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BatchState) UnmarshalText(b []byte) error {
	v, err := ParseBatchState(string(b))
	*s = v
	return err
}

// ParseBatchState parses a batch state name, case-insensitively.
func ParseBatchState(s string) (BatchState, error) {
	v, err := batchStateNames.parse(s, "batch state")
	return BatchState(v), err
}

// BatchError classifies why a batch stopped.
type BatchError int

// Defines all batch errors.
const (
	BatchErrorNone BatchError = iota
	// BatchErrorIncomplete means the agent went away, the steps may be retried.
	BatchErrorIncomplete
	BatchErrorCancelled
	BatchErrorNoLongerNeeded
	BatchErrorSyncingFailed
	// BatchErrorUnknownShelf means the shelved change of a preflight no longer resolves.
	BatchErrorUnknownShelf
	BatchErrorExecutionError
)

var batchErrorNames = enumNames{
	BatchErrorNone:           "None",
	BatchErrorIncomplete:     "Incomplete",
	BatchErrorCancelled:      "Cancelled",
	BatchErrorNoLongerNeeded: "NoLongerNeeded",
	BatchErrorSyncingFailed:  "SyncingFailed",
	BatchErrorUnknownShelf:   "UnknownShelf",
	BatchErrorExecutionError: "ExecutionError",
}

// String implements fmt.Stringer.
func (e BatchError) String() string { return batchErrorNames.name(int(e), "BatchError") }

// MarshalText implements encoding.TextMarshaler.
func (e BatchError) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *BatchError) UnmarshalText(b []byte) error {
	v, err := ParseBatchError(string(b))
	*e = v
	return err
}

// ParseBatchError parses a batch error name, case-insensitively.
func ParseBatchError(s string) (BatchError, error) {
	v, err := batchErrorNames.parse(s, "batch error")
	return BatchError(v), err
}

// IsFatal returns true if the steps of a batch failed with e must not be
// retried automatically.
func (e BatchError) IsFatal() bool {
	return e != BatchErrorNone && e != BatchErrorIncomplete
}

// StepState is the state of a step.
//
//	Waiting ──> Ready ──> Running ──> Completed | Aborted
//	   │          │
//	   └──────────┴──> Skipped
type StepState int

// Defines all step states.
const (
	StepStateUnspecified StepState = iota
	StepStateWaiting
	StepStateReady
	StepStateSkipped
	StepStateRunning
	StepStateCompleted
	StepStateAborted
)

var stepStateNames = enumNames{
	StepStateUnspecified: "Unspecified",
	StepStateWaiting:     "Waiting",
	StepStateReady:       "Ready",
	StepStateSkipped:     "Skipped",
	StepStateRunning:     "Running",
	StepStateCompleted:   "Completed",
	StepStateAborted:     "Aborted",
}

// String implements fmt.Stringer.
func (s StepState) String() string { return stepStateNames.name(int(s), "StepState") }

// MarshalText implements encoding.TextMarshaler.
func (s StepState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StepState) UnmarshalText(b []byte) error {
	v, err := ParseStepState(string(b))
	*s = v
	return err
}

// ParseStepState parses a step state name, case-insensitively.
func ParseStepState(s string) (StepState, error) {
	v, err := stepStateNames.parse(s, "step state")
	return StepState(v), err
}

// IsPending returns true for Waiting, Ready and Running.
func (s StepState) IsPending() bool {
	return s == StepStateWaiting || s == StepStateReady || s == StepStateRunning
}

// IsTerminal returns true for Skipped, Completed and Aborted.
func (s StepState) IsTerminal() bool {
	return s == StepStateSkipped || s == StepStateCompleted || s == StepStateAborted
}

// StepOutcome is the result of a step.
type StepOutcome int

// Defines all step outcomes.
const (
	StepOutcomeUnspecified StepOutcome = iota
	StepOutcomeFailure
	StepOutcomeWarnings
	StepOutcomeSuccess
)

var stepOutcomeNames = enumNames{
	StepOutcomeUnspecified: "Unspecified",
	StepOutcomeFailure:     "Failure",
	StepOutcomeWarnings:    "Warnings",
	StepOutcomeSuccess:     "Success",
}

// String implements fmt.Stringer.
func (o StepOutcome) String() string { return stepOutcomeNames.name(int(o), "StepOutcome") }

// MarshalText implements encoding.TextMarshaler.
func (o StepOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *StepOutcome) UnmarshalText(b []byte) error {
	v, err := ParseStepOutcome(string(b))
	*o = v
	return err
}

// ParseStepOutcome parses a step outcome name, case-insensitively.
func ParseStepOutcome(s string) (StepOutcome, error) {
	v, err := stepOutcomeNames.parse(s, "step outcome")
	return StepOutcome(v), err
}

// StepError is the fine-grained reason recorded on a step.
type StepError int

// Defines all step errors.
const (
	StepErrorNone StepError = iota
	StepErrorTimedOut
	StepErrorPaused
	StepErrorIncomplete
)

var stepErrorNames = enumNames{
	StepErrorNone:       "None",
	StepErrorTimedOut:   "TimedOut",
	StepErrorPaused:     "Paused",
	StepErrorIncomplete: "Incomplete",
}

// String implements fmt.Stringer.
func (e StepError) String() string { return stepErrorNames.name(int(e), "StepError") }

// MarshalText implements encoding.TextMarshaler.
func (e StepError) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *StepError) UnmarshalText(b []byte) error {
	v, err := ParseStepError(string(b))
	*e = v
	return err
}

// ParseStepError parses a step error name, case-insensitively.
func ParseStepError(s string) (StepError, error) {
	v, err := stepErrorNames.parse(s, "step error")
	return StepError(v), err
}
