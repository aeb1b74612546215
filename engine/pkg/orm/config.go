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

package orm

import (
	"strings"
	"time"

	"github.com/pingcap/buildflow/pkg/errors"
)

// StoreType is the backend of the metastore.
type StoreType string

const (
	// StoreTypeMySQL is a mysql compatible server
	StoreTypeMySQL StoreType = "mysql"
	// StoreTypeSQLite is an embedded sqlite database
	StoreTypeSQLite StoreType = "sqlite"
)

const (
	defaultStoreType     = StoreTypeSQLite
	defaultDSN           = "file:buildflow.db?cache=shared"
	defaultMaxOpenConns  = 16
	defaultSlowThreshold = "200ms"
)

// StoreConfig is the metastore configuration
type StoreConfig struct {
	StoreType     StoreType `toml:"store-type" json:"store-type"`
	DSN           string    `toml:"dsn" json:"dsn"`
	MaxOpenConns  int       `toml:"max-open-conns" json:"max-open-conns"`
	SlowThreshold string    `toml:"slow-threshold" json:"slow-threshold"`
}

// DefaultStoreConfig returns a config storing into a local sqlite file
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		StoreType:     defaultStoreType,
		DSN:           defaultDSN,
		MaxOpenConns:  defaultMaxOpenConns,
		SlowThreshold: defaultSlowThreshold,
	}
}

// Validate normalizes the store type and checks the config
func (c *StoreConfig) Validate() error {
	c.StoreType = StoreType(strings.ToLower(strings.TrimSpace(string(c.StoreType))))
	switch c.StoreType {
	case StoreTypeMySQL, StoreTypeSQLite:
	case "":
		c.StoreType = defaultStoreType
	default:
		return errors.ErrMetaStoreTypeUnsupported.GenWithStackByArgs(c.StoreType)
	}
	if c.DSN == "" {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("dsn is empty")
	}
	if c.MaxOpenConns < 0 {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("max-open-conns must not be negative")
	}
	if c.SlowThreshold != "" {
		if _, err := time.ParseDuration(c.SlowThreshold); err != nil {
			return errors.ErrMetaParamsInvalid.Wrap(err).GenWithStackByArgs("slow-threshold is not a duration")
		}
	}
	return nil
}

func (c *StoreConfig) slowThreshold() time.Duration {
	d, err := time.ParseDuration(c.SlowThreshold)
	if err != nil {
		return 0
	}
	return d
}
