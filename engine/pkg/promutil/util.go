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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	systemOwner = "buildflow-system"

	// constLabelComponentKey is used to recognize the component a metric
	// belongs to
	constLabelComponentKey = "component"
)

// HTTPHandlerForMetric return http.Handler for prometheus metric
func HTTPHandlerForMetric() http.Handler {
	return HTTPHandlerForMetricImpl(globalMetricRegistry)
}

// HTTPHandlerForMetricImpl return http.Handler for the given gatherer
func HTTPHandlerForMetricImpl(gather prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gather, promhttp.HandlerOpts{})
}

// NewFactory4Component return a Factory registering into the global
// registry, the metrics carry a {component="<component>"} label
func NewFactory4Component(component string) Factory {
	return NewFactory4ComponentImpl(globalMetricRegistry, component)
}

// NewFactory4ComponentImpl is NewFactory4Component for a given registry
func NewFactory4ComponentImpl(reg *Registry, component string) Factory {
	return &wrappingFactory{
		r:     reg,
		owner: component,
		constLabels: prometheus.Labels{
			constLabelComponentKey: component,
		},
	}
}
