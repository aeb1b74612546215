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
	"github.com/go-sql-driver/mysql"
)

const maskedPassword = "******"

// HideDSNPassword replaces the password in a mysql DSN with `******`.
// A DSN that can't be parsed (e.g. a sqlite file path) is returned as is.
func HideDSNPassword(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil || cfg.Passwd == "" {
		return dsn
	}
	cfg.Passwd = maskedPassword
	return cfg.FormatDSN()
}
