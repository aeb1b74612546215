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

package cli

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/spf13/cobra"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return errors.Trace(err)
}

func invalidParameter(format string, args ...interface{}) error {
	return errors.ErrInvalidCliParameter.GenWithStack(format, args...)
}

func requireFlag(name, value string) error {
	if value == "" {
		return invalidParameter("--%s is required", name)
	}
	return nil
}

// The parse helpers below return nil when the flag was not given.

func parseBatchState(s string) (*model.BatchState, error) {
	if s == "" {
		return nil, nil
	}
	v, err := model.ParseBatchState(s)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	return &v, nil
}

func parseBatchError(s string) (*model.BatchError, error) {
	if s == "" {
		return nil, nil
	}
	v, err := model.ParseBatchError(s)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	return &v, nil
}

func parseStepError(s string) (*model.StepError, error) {
	if s == "" {
		return nil, nil
	}
	v, err := model.ParseStepError(s)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	return &v, nil
}

func parsePriority(s string) (*model.Priority, error) {
	if s == "" {
		return nil, nil
	}
	v, err := model.ParsePriority(s)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	return &v, nil
}
