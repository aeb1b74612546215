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
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pingcap/buildflow/engine/jobservice/events"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/clock"
	"github.com/pingcap/buildflow/engine/pkg/logutil"
	"github.com/pingcap/buildflow/engine/scheduler"
	"github.com/pingcap/buildflow/pkg/errors"
	pkgLogutil "github.com/pingcap/buildflow/pkg/logutil"
	"github.com/pingcap/buildflow/pkg/retry"
	"go.uber.org/zap"
)

// mutation edits a private clone of a job. graph is the graph the job
// currently runs on and now the timestamp of the write.
type mutation func(job *model.Job, graph *model.Graph, now time.Time) error

// An update of a job goes through the following steps:
//
//	  caller                Service                       metastore
//	    |    Try*(job, ...)    |                               |
//	    |--------------------->|  clone, mutate               |
//	    |                      |  UPDATE ... WHERE            |
//	    |                      |  update_index = job.Index    |
//	    |                      |------------------------------>|
//	    |                      |  0 rows: ErrJobUpdateConflict |
//	    |                      |<------------------------------|
//	    |   new job / error    |                               |
//	    |<---------------------|  notify events, cancel leases |
//
// The non Try variants re-read the job and run the mutation again whenever
// the write loses the race.

// tryUpdate applies mutate to a clone of job and writes the result if the
// stored job still has job's update index. A mutation which changes nothing
// returns job itself without writing.
func (s *Service) tryUpdate(ctx context.Context, op string, job *model.Job, mutate mutation) (*model.Job, error) {
	graph, err := s.graphs.get(ctx, job.GraphHash)
	if err != nil {
		return nil, err
	}
	now := clock.UTCNow(s.clock)
	newJob := job.Clone()
	if err := mutate(newJob, graph, now); err != nil {
		return nil, err
	}
	if cmp.Equal(job, newJob) {
		logutil.NewLogger4Job(job.ID).Debug("update changed nothing", zap.String("op", op))
		return job, nil
	}

	newJob.UpdateIndex = job.UpdateIndex + 1
	newJob.UpdateTime = now
	res, err := s.store.UpdateJobIfIndex(ctx, newJob, job.UpdateIndex)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected() == 0 {
		jobUpdateConflictCounter.WithLabelValues(op).Inc()
		return nil, errors.ErrJobUpdateConflict.GenWithStackByArgs(job.ID, job.UpdateIndex)
	}
	s.afterUpdate(ctx, job, newJob)
	return newJob, nil
}

// afterUpdate publishes the changes of a successful write. Failures only get
// logged, the write already happened.
func (s *Service) afterUpdate(ctx context.Context, oldJob, newJob *model.Job) {
	s.notifier.Notify(events.Diff(oldJob, newJob)...)

	for _, batch := range leasesToCancel(oldJob, newJob) {
		logger := logutil.NewLogger4Batch(newJob.ID, string(batch.ID))
		if err := s.leases.CancelLease(ctx, newJob.ID, batch.ID, batch.LeaseID); err != nil {
			leaseCancelCounter.WithLabelValues("error").Inc()
			logger.Warn("failed to cancel lease of no longer needed batch",
				zap.String("lease", batch.LeaseID), pkgLogutil.ZapErrorFilter(err, context.Canceled))
			continue
		}
		leaseCancelCounter.WithLabelValues("ok").Inc()
		logger.Info("cancelled lease of no longer needed batch", zap.String("lease", batch.LeaseID))
	}
}

// update re-reads the job and runs tryUpdate until it wins the race.
func (s *Service) update(ctx context.Context, op string, jobID string, mutate mutation) (*model.Job, error) {
	var ret *model.Job
	err := s.withRetry(ctx, op, jobID, func() error {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		ret, err = s.tryUpdate(ctx, op, job, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) withRetry(ctx context.Context, op string, jobID string, fn func() error) error {
	start := s.clock.Mono()
	logger := pkgLogutil.FromContext(ctx)
	opts := append(s.conf.retryOptions(), retry.WithOnRetry(func(attempt int, err error) {
		logger.Debug("retrying job update", zap.String("job_id", jobID),
			zap.String("op", op), zap.Int("attempt", attempt), pkgLogutil.ShortError(err))
	}))
	err := retry.Do(ctx, fn, opts...)
	jobUpdateDuration.WithLabelValues(op).Observe(s.clock.Mono().Sub(start).Seconds())
	if err != nil {
		jobUpdateCounter.WithLabelValues(op, "error").Inc()
		return err
	}
	jobUpdateCounter.WithLabelValues(op, "ok").Inc()
	return nil
}

// TryUpdateStep applies upd to job with a single conditional write.
func (s *Service) TryUpdateStep(ctx context.Context, job *model.Job, upd model.StepUpdate) (*model.Job, error) {
	return s.tryUpdate(ctx, "update-step", job, stepMutation(upd))
}

// UpdateStep applies upd to the latest snapshot of the job.
func (s *Service) UpdateStep(ctx context.Context, jobID string, upd model.StepUpdate) (*model.Job, error) {
	return s.update(ctx, "update-step", jobID, stepMutation(upd))
}

func stepMutation(upd model.StepUpdate) mutation {
	return func(job *model.Job, graph *model.Graph, now time.Time) error {
		return scheduler.ApplyStepUpdate(job, graph, &upd, now)
	}
}

// TryUpdateBatch applies upd to job with a single conditional write.
func (s *Service) TryUpdateBatch(ctx context.Context, job *model.Job, upd model.BatchUpdate) (*model.Job, error) {
	return s.tryUpdate(ctx, "update-batch", job, batchMutation(upd))
}

// UpdateBatch applies upd to the latest snapshot of the job.
func (s *Service) UpdateBatch(ctx context.Context, jobID string, upd model.BatchUpdate) (*model.Job, error) {
	return s.update(ctx, "update-batch", jobID, batchMutation(upd))
}

func batchMutation(upd model.BatchUpdate) mutation {
	return func(job *model.Job, graph *model.Graph, now time.Time) error {
		return scheduler.ApplyBatchUpdate(job, graph, &upd, now)
	}
}

// TryAssignLease binds a batch of job to a lease with a single conditional
// write.
func (s *Service) TryAssignLease(ctx context.Context, job *model.Job, lease model.LeaseAssignment) (*model.Job, error) {
	return s.tryUpdate(ctx, "assign-lease", job, leaseMutation(lease))
}

// AssignLease binds a batch of the job to a lease.
func (s *Service) AssignLease(ctx context.Context, jobID string, lease model.LeaseAssignment) (*model.Job, error) {
	return s.update(ctx, "assign-lease", jobID, leaseMutation(lease))
}

func leaseMutation(lease model.LeaseAssignment) mutation {
	return func(job *model.Job, _ *model.Graph, _ time.Time) error {
		return scheduler.AssignLease(job, &lease)
	}
}

// TryCancelLease detaches a batch of job from its lease with a single
// conditional write.
func (s *Service) TryCancelLease(ctx context.Context, job *model.Job, batchIdx int) (*model.Job, error) {
	return s.tryUpdate(ctx, "cancel-lease", job, cancelLeaseMutation(batchIdx))
}

// CancelLease detaches a batch of the job from its lease.
func (s *Service) CancelLease(ctx context.Context, jobID string, batchIdx int) (*model.Job, error) {
	return s.update(ctx, "cancel-lease", jobID, cancelLeaseMutation(batchIdx))
}

func cancelLeaseMutation(batchIdx int) mutation {
	return func(job *model.Job, _ *model.Graph, _ time.Time) error {
		return scheduler.CancelLease(job, batchIdx)
	}
}

// TryUpdateGraph moves job to the graph with the given hash with a single
// conditional write.
func (s *Service) TryUpdateGraph(ctx context.Context, job *model.Job, graphHash string) (*model.Job, error) {
	return s.tryUpdate(ctx, "update-graph", job, s.graphMutation(ctx, graphHash))
}

// UpdateGraph moves the job to the graph with the given hash.
func (s *Service) UpdateGraph(ctx context.Context, jobID string, graphHash string) (*model.Job, error) {
	return s.update(ctx, "update-graph", jobID, s.graphMutation(ctx, graphHash))
}

func (s *Service) graphMutation(ctx context.Context, graphHash string) mutation {
	return func(job *model.Job, graph *model.Graph, _ time.Time) error {
		if graph.Hash == graphHash {
			return nil
		}
		newGraph, err := s.graphs.get(ctx, graphHash)
		if err != nil {
			return err
		}
		logutil.NewLogger4Job(job.ID).Info("migrating job to new graph",
			zap.String("old-graph", graph.Hash), zap.String("new-graph", newGraph.Hash))
		return scheduler.MigrateGraph(job, graph, newGraph)
	}
}

// TryUpdateJob applies a job level change with a single conditional write.
func (s *Service) TryUpdateJob(ctx context.Context, job *model.Job, upd model.JobUpdate) (*model.Job, error) {
	return s.tryUpdate(ctx, "update-job", job, jobMutation(upd))
}

// UpdateJob applies a job level change to the latest snapshot of the job.
func (s *Service) UpdateJob(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	return s.update(ctx, "update-job", jobID, jobMutation(upd))
}

func jobMutation(upd model.JobUpdate) mutation {
	return func(job *model.Job, graph *model.Graph, _ time.Time) error {
		return scheduler.ApplyJobUpdate(job, graph, &upd)
	}
}

// FailBatch completes the batch at batchIdx with batchErr.
func (s *Service) FailBatch(ctx context.Context, jobID string, batchIdx int, batchErr model.BatchError) (*model.Job, error) {
	return s.update(ctx, "fail-batch", jobID, func(job *model.Job, graph *model.Graph, now time.Time) error {
		return scheduler.FailBatch(job, graph, batchIdx, batchErr, now)
	})
}

// SkipBatch completes the batch and skips its steps. An unknown batch leaves
// the job unchanged.
func (s *Service) SkipBatch(ctx context.Context, jobID string, batchID model.BatchID, reason model.BatchError) (*model.Job, error) {
	return s.update(ctx, "skip-batch", jobID, func(job *model.Job, graph *model.Graph, now time.Time) error {
		return scheduler.SkipBatch(job, graph, batchID, reason, now)
	})
}

// SkipAllBatches completes every batch which has not started yet.
func (s *Service) SkipAllBatches(ctx context.Context, jobID string, reason model.BatchError) (*model.Job, error) {
	return s.update(ctx, "skip-all-batches", jobID, func(job *model.Job, graph *model.Graph, now time.Time) error {
		return scheduler.SkipAllBatches(job, graph, reason, now)
	})
}

// RemoveFromDispatchQueue hides the job from the dispatch queue until its
// next structural change.
func (s *Service) RemoveFromDispatchQueue(ctx context.Context, jobID string) (*model.Job, error) {
	return s.update(ctx, "remove-from-queue", jobID, func(job *model.Job, _ *model.Graph, _ time.Time) error {
		scheduler.RemoveFromDispatchQueue(job)
		return nil
	})
}
