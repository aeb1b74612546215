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
	"path/filepath"
	"testing"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerAndSetLogLevel(t *testing.T) {
	f := filepath.Join(t.TempDir(), "logs", "buildflow.log")
	cfg := &Config{
		Level: "warning",
		File:  f,
	}
	require.NoError(t, InitLogger(cfg))
	require.Equal(t, zapcore.WarnLevel, log.GetLevel())
	require.Equal(t, defaultLogMaxSize, cfg.FileMaxSize)

	require.NoError(t, SetLogLevel("info"))
	require.Equal(t, zapcore.InfoLevel, log.GetLevel())

	require.NoError(t, SetLogLevel("DEBUG"))
	require.Equal(t, zapcore.DebugLevel, log.GetLevel())

	require.Error(t, SetLogLevel("badlevel"))
}

func TestConfigAdjust(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Adjust()
	require.Equal(t, "info", cfg.Level)
	require.Equal(t, defaultLogMaxDays, cfg.FileMaxDays)
}

func TestZapErrorFilter(t *testing.T) {
	t.Parallel()

	err := errors.New("test error")
	testCases := []struct {
		err      error
		filters  []error
		expected zap.Field
	}{
		{nil, []error{}, zap.Error(nil)},
		{err, []error{}, zap.Error(err)},
		{err, []error{err}, zap.Error(nil)},
		{errors.Trace(err), []error{err}, zap.Error(nil)},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, ZapErrorFilter(tc.err, tc.filters...))
	}
}

func TestShortError(t *testing.T) {
	t.Parallel()

	require.Equal(t, zap.Skip(), ShortError(nil))
	require.Equal(t, zap.String("error", "boom"), ShortError(errors.New("boom")))
}
