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
	stderrors "errors"

	"github.com/pingcap/errors"
)

// Re-exports of the commonly used helpers of pingcap/errors, so callers
// only need to import this package.
var (
	New      = errors.New
	Errorf   = errors.Errorf
	Trace    = errors.Trace
	Annotate = errors.Annotate
	Cause    = errors.Cause
)

// WrapError wraps err into rfcError with the stack and args attached.
// It returns nil if err is nil.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// Is reports whether any error in err's chain matches target.
// Normalized errors match by their RFC code, so a generated or wrapped
// instance of ErrXxx matches ErrXxx itself.
func Is(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}
	rfc, isRFC := target.(*errors.Error)
	for e := err; e != nil; e = unwrapOnce(e) {
		if isRFC {
			if x, ok := e.(*errors.Error); ok && x.ID() == rfc.ID() {
				return true
			}
			continue
		}
		if stderrors.Is(e, target) {
			return true
		}
	}
	return false
}

func unwrapOnce(err error) error {
	if x, ok := err.(interface{ Unwrap() error }); ok {
		if inner := x.Unwrap(); inner != nil {
			return inner
		}
	}
	if x, ok := err.(interface{ Cause() error }); ok {
		if inner := x.Cause(); inner != err {
			return inner
		}
	}
	return nil
}

// IsRetryableConflict returns true if err signals a lost race on the
// job's update index.
func IsRetryableConflict(err error) bool {
	return Is(err, ErrJobUpdateConflict)
}
