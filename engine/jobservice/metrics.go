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
	"github.com/pingcap/buildflow/engine/pkg/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	serviceFactory = promutil.NewFactory4Component("jobservice")

	jobUpdateCounter = serviceFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "update_total",
			Help:      "number of job updates by operation and result",
		}, []string{"op", "result"})
	jobUpdateConflictCounter = serviceFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "update_conflict_total",
			Help:      "number of conditional writes which lost the race on the update index",
		}, []string{"op"})
	jobUpdateDuration = serviceFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "update_duration_seconds",
			Help:      "duration of a job update including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"op"})
	graphCacheCounter = serviceFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "graph_cache_total",
			Help:      "graph cache lookups by result",
		}, []string{"result"})
	leaseCancelCounter = serviceFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "lease_cancel_total",
			Help:      "leases of no longer needed batches handed to the lease canceller",
		}, []string{"result"})
	dispatchQueueGauge = serviceFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildflow",
			Subsystem: "job_service",
			Name:      "dispatch_queue_jobs",
			Help:      "number of dispatchable jobs seen by the last queue read",
		})
)
