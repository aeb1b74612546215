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

package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdcontext "github.com/pingcap/buildflow/pkg/cmd/context"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InitCmd installs the signal handler, sets the default context and returns
// its cancel function. Calling the cancel function also stops the handler.
func InitCmd(cmd *cobra.Command) context.CancelFunc {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer signal.Stop(sc)
		select {
		case <-ctx.Done():
		case sig := <-sc:
			log.Info("got signal to exit", zap.Stringer("signal", sig), zap.String("command", cmd.Name()))
			cancel()
		}
	}()

	cmdcontext.SetDefaultContext(ctx)

	return cancel
}
