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

package uuid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerator(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	a, b := gen.NewString(), gen.NewString()
	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestMockGenerator(t *testing.T) {
	t.Parallel()

	gen := NewMock()
	gen.Push("job-1", "job-2")
	require.Equal(t, "job-1", gen.NewString())
	require.Equal(t, "job-2", gen.NewString())
	require.Equal(t, "mock-1", gen.NewString())
	gen.Push("job-3")
	require.Equal(t, "job-3", gen.NewString())
	require.Equal(t, "mock-2", gen.NewString())
}
