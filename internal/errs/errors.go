// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs collects the sentinel error kinds surfaced by the tablet
// lifecycle core (§7), built on cockroachdb/errors so callers can use
// errors.Is/errors.Wrapf across component boundaries instead of comparing
// strings.
package errs

import "github.com/cockroachdb/errors"

// Version errors.
var (
	ErrVersionAlreadyExists       = errors.New("version already exists")
	ErrPublishVersionNotContinuous = errors.New("publish version not continuous")
	ErrCumulativeNoSuitableVersion = errors.New("cumulative compaction: no suitable version")
	ErrCumulativeMeetDeleteVersion = errors.New("cumulative compaction: met delete version")
	ErrBeNoSuitableVersion        = errors.New("base compaction: no suitable version")
)

// Lookup errors.
var (
	ErrPushTableNotExist  = errors.New("push: table does not exist")
	ErrPushRowsetNotFound = errors.New("push: rowset not found")
	ErrNotFound           = errors.New("not found")
)

// Concurrency errors.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrTryLockFailed = errors.New("try lock failed")
)

// I/O & format errors.
var (
	ErrIO                = errors.New("io error")
	ErrParseProtobuf     = errors.New("parse protobuf error")
	ErrInitFailed        = errors.New("init failed")
	ErrCorruption        = errors.New("corruption")
)

// Fatal errors.
var ErrInternal = errors.New("internal error")

// Wrap annotates err with msg using cockroachdb/errors, preserving Is/As
// matching against the wrapped sentinel. A nil err stays nil.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
