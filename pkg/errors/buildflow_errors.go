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

package errors

import (
	"github.com/pingcap/errors"
)

// all buildflow errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error",
		errors.RFCCodeText("BFLOW:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("BFLOW:ErrInvalidArgument"),
	)

	// graph related errors
	ErrInvalidGraph = errors.Normalize(
		"invalid graph: %s",
		errors.RFCCodeText("BFLOW:ErrInvalidGraph"),
	)
	ErrGraphNotFound = errors.Normalize(
		"graph %s not found",
		errors.RFCCodeText("BFLOW:ErrGraphNotFound"),
	)
	ErrNodeNotFoundInGraph = errors.Normalize(
		"node '%s' exists in graph %s; does not exist in graph %s",
		errors.RFCCodeText("BFLOW:ErrNodeNotFoundInGraph"),
	)
	ErrNodeGroupChanged = errors.Normalize(
		"node '%s' is in different group in graph %s than graph %s",
		errors.RFCCodeText("BFLOW:ErrNodeGroupChanged"),
	)
	ErrEmptyGroup = errors.Normalize(
		"group %d in graph %s does not have any nodes",
		errors.RFCCodeText("BFLOW:ErrEmptyGroup"),
	)
	ErrNodeDefinitionChanged = errors.Normalize(
		"definition for node '%s' has changed",
		errors.RFCCodeText("BFLOW:ErrNodeDefinitionChanged"),
	)

	// scheduler related errors
	ErrRetryNotAllowed = errors.Normalize(
		"node '%s' does not allow retries",
		errors.RFCCodeText("BFLOW:ErrRetryNotAllowed"),
	)
	ErrBatchNotFound = errors.Normalize(
		"batch %s not found in job %s",
		errors.RFCCodeText("BFLOW:ErrBatchNotFound"),
	)
	ErrStepNotFound = errors.Normalize(
		"step %s not found in batch %s of job %s",
		errors.RFCCodeText("BFLOW:ErrStepNotFound"),
	)
	ErrBatchSessionAssigned = errors.Normalize(
		"batch %s of job %s is already assigned to session %s",
		errors.RFCCodeText("BFLOW:ErrBatchSessionAssigned"),
	)

	// job service related errors
	ErrJobNotFound = errors.Normalize(
		"job %s not found",
		errors.RFCCodeText("BFLOW:ErrJobNotFound"),
	)
	ErrJobUpdateConflict = errors.Normalize(
		"job %s was modified concurrently, update index %d is stale",
		errors.RFCCodeText("BFLOW:ErrJobUpdateConflict"),
	)
	ErrJobAlreadyExists = errors.Normalize(
		"job %s already exists",
		errors.RFCCodeText("BFLOW:ErrJobAlreadyExists"),
	)

	// meta related errors
	ErrMetaNewClientFail = errors.Normalize(
		"create meta client fail",
		errors.RFCCodeText("BFLOW:ErrMetaNewClientFail"),
	)
	ErrMetaOpFail = errors.Normalize(
		"meta operation fail",
		errors.RFCCodeText("BFLOW:ErrMetaOpFail"),
	)
	ErrMetaParamsInvalid = errors.Normalize(
		"meta params invalid:%s",
		errors.RFCCodeText("BFLOW:ErrMetaParamsInvalid"),
	)
	ErrMetaEntryNotFound = errors.Normalize(
		"meta entry not found",
		errors.RFCCodeText("BFLOW:ErrMetaEntryNotFound"),
	)
	ErrMetaEntryAlreadyExists = errors.Normalize(
		"meta entry already exists",
		errors.RFCCodeText("BFLOW:ErrMetaEntryAlreadyExists"),
	)
	ErrMetaStoreTypeUnsupported = errors.Normalize(
		"meta store type %s is not supported",
		errors.RFCCodeText("BFLOW:ErrMetaStoreTypeUnsupported"),
	)

	// config related errors
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("BFLOW:ErrDecodeConfigFile"),
	)
	ErrConfigUnknownItem = errors.Normalize(
		"unknown config item: %s",
		errors.RFCCodeText("BFLOW:ErrConfigUnknownItem"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("BFLOW:ErrInvalidConfig"),
	)

	// cli related errors
	ErrInvalidCliParameter = errors.Normalize(
		"invalid cli parameters",
		errors.RFCCodeText("BFLOW:ErrInvalidCliParameter"),
	)
)
