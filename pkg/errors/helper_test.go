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
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	require.Nil(t, WrapError(ErrMetaOpFail, nil))

	cause := stderrors.New("connection refused")
	err := WrapError(ErrMetaOpFail, cause)
	require.Error(t, err)
	require.True(t, Is(err, ErrMetaOpFail))
	require.Contains(t, err.Error(), "connection refused")
}

func TestIs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err      error
		target   error
		expected bool
	}{
		{ErrRetryNotAllowed.GenWithStackByArgs("Compile"), ErrRetryNotAllowed, true},
		{ErrMetaEntryNotFound.Wrap(stderrors.New("not found")), ErrMetaEntryNotFound, true},
		{Trace(ErrJobUpdateConflict.GenWithStackByArgs("job-1", 3)), ErrJobUpdateConflict, true},
		{fmt.Errorf("outer: %w", ErrJobNotFound.GenWithStackByArgs("j")), ErrJobNotFound, true},
		{ErrMetaNewClientFail.Wrap(stderrors.New("x")), ErrMetaEntryNotFound, false},
		{stderrors.New("plain"), ErrMetaOpFail, false},
		{Trace(context.Canceled), context.Canceled, true},
		{nil, ErrMetaOpFail, false},
	}
	for i, tc := range testCases {
		require.Equal(t, tc.expected, Is(tc.err, tc.target), "case %d", i)
	}
}

func TestIsRetryableConflict(t *testing.T) {
	t.Parallel()

	require.True(t, IsRetryableConflict(ErrJobUpdateConflict.GenWithStackByArgs("job", 1)))
	require.False(t, IsRetryableConflict(ErrRetryNotAllowed.GenWithStackByArgs("node")))
	require.False(t, IsRetryableConflict(nil))
}
