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

package promutil

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFactoryAttachesComponentLabel(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	factory := NewFactory4ComponentImpl(reg, "jobservice")
	counter := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "buildflow",
		Subsystem:   "test",
		Name:        "ops_total",
		Help:        "test counter",
		ConstLabels: prometheus.Labels{"component": "spoofed", "zone": "a"},
	}, []string{"op"})
	counter.WithLabelValues("update").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	metric := families[0].GetMetric()[0]
	labels := make(map[string]string)
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	require.Equal(t, map[string]string{"component": "jobservice", "zone": "a", "op": "update"}, labels)
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := NewFactory4ComponentImpl(reg, "a")
	b := NewFactory4ComponentImpl(reg, "b")
	a.NewGauge(prometheus.GaugeOpts{Name: "gauge_a", Help: "a"}).Set(1)
	a.NewCounter(prometheus.CounterOpts{Name: "counter_a", Help: "a"}).Inc()
	b.NewGaugeVec(prometheus.GaugeOpts{Name: "gauge_b", Help: "b"}, []string{"state"}).WithLabelValues("x").Set(3)
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	reg.Unregister("a")
	count, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	// registering again after unregister is fine
	a.NewGauge(prometheus.GaugeOpts{Name: "gauge_a", Help: "a"})

	require.Panics(t, func() {
		b.NewHistogramVec(prometheus.HistogramOpts{Name: "gauge_b", Help: "dup"}, []string{"state"})
	})
}

func TestHTTPHandlerForMetric(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	NewFactory4ComponentImpl(reg, "jobservice").
		NewCounter(prometheus.CounterOpts{Namespace: "buildflow", Name: "handler_total", Help: "h"}).Inc()

	rec := httptest.NewRecorder()
	HTTPHandlerForMetricImpl(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `buildflow_handler_total{component="jobservice"} 1`)
}
