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

package logutil

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	constFieldComponentKey = "component"
	// constFieldJobKey is used to recognize the logs of one job
	constFieldJobKey   = "job_id"
	constFieldBatchKey = "batch_id"
)

// NewLogger4Component returns a new logger for a long living component,
// such as the job service.
func NewLogger4Component(component string) *zap.Logger {
	return log.L().With(zap.String(constFieldComponentKey, component))
}

// NewLogger4Job returns a new logger for the given job.
func NewLogger4Job(jobID string) *zap.Logger {
	return log.L().With(zap.String(constFieldJobKey, jobID))
}

// NewLogger4Batch returns a new logger for a batch of the given job.
func NewLogger4Batch(jobID string, batchID string) *zap.Logger {
	return log.L().With(
		zap.String(constFieldJobKey, jobID),
		zap.String(constFieldBatchKey, batchID),
	)
}
