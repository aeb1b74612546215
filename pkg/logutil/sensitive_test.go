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

package logutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHideDSNPassword(t *testing.T) {
	t.Parallel()

	masked := HideDSNPassword("root:secret@tcp(127.0.0.1:3306)/buildflow")
	require.NotContains(t, masked, "secret")
	require.Contains(t, masked, "root:******@tcp(127.0.0.1:3306)/buildflow")

	// no password to hide
	require.Equal(t, "root@tcp(127.0.0.1:3306)/buildflow",
		HideDSNPassword("root@tcp(127.0.0.1:3306)/buildflow"))

	// sqlite dsn is not a mysql dsn
	require.Equal(t, "file:buildflow.db?cache=shared",
		HideDSNPassword("file:buildflow.db?cache=shared"))
}
