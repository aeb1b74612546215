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
	"context"
	"time"

	"github.com/pingcap/buildflow/engine/config"
	"github.com/pingcap/buildflow/engine/jobservice"
	"github.com/pingcap/buildflow/engine/pkg/clock"
	"github.com/pingcap/buildflow/engine/pkg/deps"
	"github.com/pingcap/buildflow/engine/pkg/orm"
	"github.com/pingcap/buildflow/engine/pkg/uuid"
	cmdcontext "github.com/pingcap/buildflow/pkg/cmd/context"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/buildflow/pkg/logutil"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const initializeTimeout = 10 * time.Second

// globalOptions defines the flags shared by every command, and the service
// built from them. The service is built on first use and shared by all
// commands of one process.
type globalOptions struct {
	configFile string
	logLevel   string

	svc     *jobservice.Service
	metaCli orm.Client
	cancel  context.CancelFunc
}

func newGlobalOptions() *globalOptions {
	return &globalOptions{}
}

// addFlags receives a *cobra.Command reference and binds
// the global flags to it.
func (o *globalOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}
	cmd.PersistentFlags().StringVar(&o.configFile, "config", "", "path of the configuration file")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level (etc: debug|info|warn|error)")
}

// service returns the job service, building it on first use.
func (o *globalOptions) service(ctx context.Context) (*jobservice.Service, error) {
	if o.svc != nil {
		return o.svc, nil
	}

	conf, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		conf.LogConf.Level = o.logLevel
	}
	if err := logutil.InitLogger(&conf.LogConf); err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	log.Debug("buildflow config", zap.Stringer("config", conf))

	d := deps.NewDeps()
	if err := d.Provide(func() (orm.Client, error) {
		cli, err := orm.NewClient(&conf.Metastore)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, initializeTimeout)
		defer cancel()
		if err := cli.Initialize(ctx); err != nil {
			return nil, multierr.Append(err, cli.Close())
		}
		return cli, nil
	}); err != nil {
		return nil, err
	}
	if err := d.Provide(func() clock.Clock { return clock.New() }); err != nil {
		return nil, err
	}
	if err := d.Provide(uuid.NewGenerator); err != nil {
		return nil, err
	}

	var store struct {
		dig.In
		MetaClient orm.Client
	}
	if err := d.Fill(&store); err != nil {
		return nil, err
	}
	svc, err := d.Construct(func(params jobservice.Params) (*jobservice.Service, error) {
		return jobservice.NewService(conf.Config, params)
	})
	if err != nil {
		return nil, multierr.Append(err, store.MetaClient.Close())
	}
	o.svc, o.metaCli = svc.(*jobservice.Service), store.MetaClient
	return o.svc, nil
}

// close releases what service built.
func (o *globalOptions) close() error {
	var err error
	if o.svc != nil {
		o.svc.Close()
		o.svc = nil
	}
	if o.metaCli != nil {
		err = multierr.Append(err, o.metaCli.Close())
		o.metaCli = nil
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	return err
}

// runWithService runs fn with the default context and the shared service.
func (o *globalOptions) runWithService(fn func(ctx context.Context, svc *jobservice.Service) error) error {
	ctx := logutil.NewContextWithLogger(cmdcontext.GetDefaultContext(),
		log.L().With(zap.String("component", "cli")))
	svc, err := o.service(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}
