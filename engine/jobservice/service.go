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
	"strings"

	"github.com/pingcap/buildflow/engine/jobservice/events"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/engine/pkg/clock"
	"github.com/pingcap/buildflow/engine/pkg/notifier"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/engine/pkg/uuid"
	"github.com/pingcap/buildflow/engine/scheduler"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Params are the dependencies of a Service.
type Params struct {
	dig.In

	MetaClient orm.Client
	Clock      clock.Clock    `optional:"true"`
	UUIDGen    uuid.Generator `optional:"true"`
	Leases     LeaseCanceller `optional:"true"`
}

// Service owns the jobs stored in the metastore. Every mutation runs on a
// private clone of the job and is written back only if nobody else wrote the
// job in between.
type Service struct {
	conf    Config
	store   orm.Client
	graphs  *graphCache
	clock   clock.Clock
	uuidGen uuid.Generator
	leases  LeaseCanceller

	notifier *notifier.Notifier[events.JobEvent]
}

// CreateJobRequest holds the parameters of CreateJob.
type CreateJobRequest struct {
	// ID is generated if empty.
	ID           string
	Name         string
	GraphHash    string
	Arguments    []string
	Priority     model.Priority
	AutoSubmit   bool
	UpdateIssues bool
}

// NewService creates a Service. The store is expected to be initialized.
func NewService(conf Config, params Params) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if params.MetaClient == nil {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("metastore client is nil")
	}
	graphs, err := newGraphCache(params.MetaClient, conf.GraphCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Service{
		conf:     conf,
		store:    params.MetaClient,
		graphs:   graphs,
		clock:    params.Clock,
		uuidGen:  params.UUIDGen,
		leases:   params.Leases,
		notifier: notifier.NewNotifier[events.JobEvent](),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.uuidGen == nil {
		s.uuidGen = uuid.NewGenerator()
	}
	if s.leases == nil {
		s.leases = noopLeaseCanceller{}
	}
	return s, nil
}

// Close stops event delivery. It does not close the metastore client.
func (s *Service) Close() {
	s.notifier.Close()
}

// Subscribe returns a receiver of the events of jobID, or of every job if
// jobID is empty. The caller must close the receiver.
func (s *Service) Subscribe(jobID string) *notifier.Receiver[events.JobEvent] {
	if jobID == "" {
		return s.notifier.NewReceiver(nil)
	}
	return s.notifier.NewReceiver(func(ev events.JobEvent) bool {
		return ev.JobID == jobID
	})
}

// FlushEvents waits until every event of the finished writes has been
// handed to the receivers.
func (s *Service) FlushEvents(ctx context.Context) error {
	return s.notifier.Flush(ctx)
}

// ImportGraph stores the graph and returns the shared instance for its hash.
func (s *Service) ImportGraph(ctx context.Context, graph *model.Graph) (*model.Graph, error) {
	ret, err := s.graphs.put(ctx, graph)
	if err != nil {
		return nil, err
	}
	log.Info("graph imported", zap.String("hash", ret.Hash), zap.Int("nodes", ret.NodeCount()))
	return ret, nil
}

// GetGraph returns the graph with the given hash.
func (s *Service) GetGraph(ctx context.Context, hash string) (*model.Graph, error) {
	return s.graphs.get(ctx, hash)
}

// CreateJob creates a job and runs its first reconciliation.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Job, error) {
	graph, err := s.graphs.get(ctx, req.GraphHash)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.uuidGen.NewString()
	}
	job, err := scheduler.NewJob(&scheduler.NewJobRequest{
		ID:           id,
		Name:         req.Name,
		Arguments:    req.Arguments,
		Priority:     req.Priority,
		AutoSubmit:   req.AutoSubmit,
		UpdateIssues: req.UpdateIssues,
	}, graph, clock.UTCNow(s.clock))
	if err != nil {
		jobUpdateCounter.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		jobUpdateCounter.WithLabelValues("create", "error").Inc()
		if orm.IsDuplicateEntryError(err) {
			return nil, errors.ErrJobAlreadyExists.Wrap(err).GenWithStackByArgs(id)
		}
		return nil, err
	}
	jobUpdateCounter.WithLabelValues("create", "ok").Inc()
	log.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("graph", job.GraphHash),
		zap.Int("batches", len(job.Batches)))
	s.notifier.Notify(events.Diff(nil, job)...)
	return job, nil
}

// GetJob returns the latest snapshot of the job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		if orm.IsNotFoundError(err) {
			return nil, errors.ErrJobNotFound.Wrap(err).GenWithStackByArgs(jobID)
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns all jobs, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*model.Job, error) {
	return s.store.QueryJobs(ctx)
}

// ListJobsByGraph returns the jobs whose current graph is hash.
func (s *Service) ListJobsByGraph(ctx context.Context, hash string) ([]*model.Job, error) {
	return s.store.QueryJobsByGraphHash(ctx, hash)
}

// GetDispatchQueue returns the jobs with a dispatchable batch, highest
// schedule priority first.
func (s *Service) GetDispatchQueue(ctx context.Context) ([]*model.Job, error) {
	jobs, err := s.store.QueryDispatchQueue(ctx)
	if err != nil {
		return nil, err
	}
	dispatchQueueGauge.Set(float64(len(jobs)))
	return jobs, nil
}

// DeleteJob removes the job. It retries while other writers touch the job.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	var deleted *model.Job
	err := s.withRetry(ctx, "delete", jobID, func() error {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		res, err := s.store.DeleteJobIfIndex(ctx, jobID, job.UpdateIndex)
		if err != nil {
			return err
		}
		if res.RowsAffected() == 0 {
			jobUpdateConflictCounter.WithLabelValues("delete").Inc()
			return errors.ErrJobUpdateConflict.GenWithStackByArgs(jobID, job.UpdateIndex)
		}
		deleted = job
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("job deleted", zap.String("job_id", jobID))
	s.notifier.Notify(events.Diff(deleted, nil)...)
	return nil
}
