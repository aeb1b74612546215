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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogConf.Level)
	require.Equal(t, orm.StoreTypeSQLite, cfg.Metastore.StoreType)
	require.Equal(t, 1, cfg.Metastore.MaxOpenConns)
	require.Equal(t, 256, cfg.GraphCacheSize)
	require.Equal(t, int64(0), cfg.UpdateRetry.MaxTries)
}

func TestConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "buildflow.toml")
	content := `
graph-cache-size = 32

[log]
level = "debug"

[metastore]
store-type = "MySQL"
dsn = "root:secret@tcp(127.0.0.1:3306)/buildflow?parseTime=true"
max-open-conns = 8

[update-retry]
base-delay-ms = 5
max-delay-ms = 50
max-tries = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogConf.Level)
	require.Equal(t, orm.StoreTypeMySQL, cfg.Metastore.StoreType)
	require.Equal(t, 8, cfg.Metastore.MaxOpenConns)
	require.Equal(t, "200ms", cfg.Metastore.SlowThreshold)
	require.Equal(t, 32, cfg.GraphCacheSize)
	require.Equal(t, int64(5), cfg.UpdateRetry.BaseDelayMs)
	require.Equal(t, int64(50), cfg.UpdateRetry.MaxDelayMs)
	require.Equal(t, int64(3), cfg.UpdateRetry.MaxTries)

	require.Contains(t, cfg.String(), `"graph-cache-size":32`)

	// Toml output decodes to the same config
	data, err := cfg.Toml()
	require.NoError(t, err)
	decoded := GetDefaultConfig()
	_, err = toml.Decode(data, decoded)
	require.NoError(t, err)
	require.NoError(t, decoded.Adjust())
	require.Equal(t, cfg, decoded)
}

func TestConfigUnknownItem(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()
	err := cfg.configFromString(`
graph-cache-sise = 32
[metastore]
store = "sqlite"
`)
	require.True(t, errors.Is(err, errors.ErrConfigUnknownItem), err)
	require.ErrorContains(t, err, "graph-cache-sise")
	require.ErrorContains(t, err, "metastore.store")

	err = cfg.configFromString(`graph-cache-size = "large"`)
	require.True(t, errors.Is(err, errors.ErrDecodeConfigFile), err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, errors.Is(err, errors.ErrDecodeConfigFile), err)
}

func TestConfigAdjustErrors(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()
	cfg.Metastore.StoreType = "etcd"
	require.True(t, errors.Is(cfg.Adjust(), errors.ErrMetaStoreTypeUnsupported))

	cfg = GetDefaultConfig()
	cfg.GraphCacheSize = -1
	require.True(t, errors.Is(cfg.Adjust(), errors.ErrInvalidConfig))
}
