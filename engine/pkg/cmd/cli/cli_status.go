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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pingcap/buildflow/engine/pkg/promutil"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/buildflow/pkg/logutil"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const statusShutdownTimeout = 3 * time.Second

// statusServer exposes the metrics of a long running shell.
type statusServer struct {
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

func startStatusServer(addr string) (*statusServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapError(errors.ErrInvalidCliParameter, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promutil.HTTPHandlerForMetric())

	s := &statusServer{
		listener: listener,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Warn("status server exited", zap.Error(err))
		}
	}()
	log.Info("status server started", zap.Stringer("addr", listener.Addr()))
	return s, nil
}

func (s *statusServer) addr() string {
	return s.listener.Addr().String()
}

func (s *statusServer) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-s.done
	return errors.Trace(err)
}

// newCmdLogLevel creates the `log-level` command, mostly useful inside the
// interactive shell.
func newCmdLogLevel() *cobra.Command {
	return &cobra.Command{
		Use:   "log-level <level>",
		Short: "Change the log level of the running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logutil.SetLogLevel(args[0]); err != nil {
				return errors.WrapError(errors.ErrInvalidCliParameter, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "log level set to %s\n", args[0])
			return nil
		},
	}
}
