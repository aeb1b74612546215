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
	stderrors "errors"
	"strings"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/buildflow/engine/pkg/uuid"
	"github.com/pingcap/buildflow/pkg/errors"
)

// IsNotFoundError checks whether the error is ErrMetaEntryNotFound
func IsNotFoundError(err error) bool {
	return errors.Is(err, errors.ErrMetaEntryNotFound)
}

// IsDuplicateEntryError checks whether the error is a unique key violation
// reported by mysql or sqlite
func IsDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrMetaEntryAlreadyExists) {
		return true
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == mysqlerr.ER_DUP_ENTRY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func randomDBFile() string {
	return uuid.NewGenerator().NewString() + ".db"
}
