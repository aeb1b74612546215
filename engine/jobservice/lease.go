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

	"github.com/pingcap/buildflow/engine/model"
)

// LeaseCanceller tells the agent holding a lease to stop working on a batch.
// It is called once a batch became no longer needed while it held a lease.
type LeaseCanceller interface {
	CancelLease(ctx context.Context, jobID string, batchID model.BatchID, leaseID string) error
}

type noopLeaseCanceller struct{}

func (noopLeaseCanceller) CancelLease(context.Context, string, model.BatchID, string) error {
	return nil
}

// leasesToCancel returns the batches of newJob which became no longer needed
// while holding a lease.
func leasesToCancel(oldJob, newJob *model.Job) []*model.Batch {
	before := make(map[model.BatchID]model.BatchError, len(oldJob.Batches))
	for _, batch := range oldJob.Batches {
		before[batch.ID] = batch.Error
	}
	var ret []*model.Batch
	for _, batch := range newJob.Batches {
		if batch.LeaseID == "" || batch.Error != model.BatchErrorNoLongerNeeded {
			continue
		}
		if before[batch.ID] != model.BatchErrorNoLongerNeeded {
			ret = append(ret, batch)
		}
	}
	return ret
}
