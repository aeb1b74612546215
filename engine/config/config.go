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
	"bytes"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"github.com/pingcap/buildflow/engine/jobservice"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/buildflow/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Config is the configuration of a buildflow process.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	Metastore orm.StoreConfig `toml:"metastore" json:"metastore"`

	jobservice.Config
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("buildflow config", c), logutil.ShortError(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer

	err := toml.NewEncoder(&b).Encode(c)
	if err != nil {
		log.L().Error("fail to marshal config to toml", logutil.ShortError(err))
		return "", errors.Trace(err)
	}

	return b.String(), nil
}

// Adjust fills defaults and validates the configuration.
func (c *Config) Adjust() error {
	c.LogConf.Adjust()
	if err := c.Metastore.Validate(); err != nil {
		return err
	}
	if c.Metastore.StoreType == orm.StoreTypeSQLite && c.Metastore.MaxOpenConns > 1 {
		// sqlite serializes writers, more connections only produce busy errors
		c.Metastore.MaxOpenConns = 1
	}
	return c.Config.Validate()
}

// configFromFile loads config from file and merges items into Config.
func (c *Config) configFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapError(errors.ErrDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

func (c *Config) configFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.WrapError(errors.ErrDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

// GetDefaultConfig returns a default config.
func GetDefaultConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "info",
			File:  "",
		},
		Metastore: orm.DefaultStoreConfig(),
		Config:    jobservice.DefaultConfig(),
	}
}

// Load returns the default config overlaid with the file at path, if any,
// and adjusted.
func Load(path string) (*Config, error) {
	cfg := GetDefaultConfig()
	if path != "" {
		if err := cfg.configFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return errors.ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
