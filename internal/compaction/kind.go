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

// Package compaction implements the compaction scheduler (C5, §4.5) and
// task runner (C6, §4.6): periodic candidate selection, per-tablet/
// per-disk concurrency budgets, the global compaction lease, and the
// pluggable cumulative-compaction policies.
package compaction

// Kind distinguishes the three compaction shapes named in §4.2's glossary:
// base covers long intervals near version 0, cumulative covers short
// recent intervals, full covers the whole tablet.
type Kind int32

const (
	Base Kind = iota
	Cumulative
	Full
)

func (k Kind) String() string {
	switch k {
	case Base:
		return "base"
	case Cumulative:
		return "cumulative"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// PrepareFailure classifies a prepareCompact failure (§4.6) so the
// scheduler can decide how to stamp backoff timestamps.
type PrepareFailure int32

const (
	PrepareOther PrepareFailure = iota
	PrepareNoSuitableVersion
	PrepareMeetDeleteVersion
	PrepareAlreadyExists
)
